// Package redis implements the shared presence store and the delivery
// dedup marker on top of Redis. Key layout:
//
//	user:{userId}:name          display name cache
//	user:{userId}:channel       the single channel a user occupies
//	connection:{connId}:user    connection ownership
//	channel:{channelId}:users   hash of userId -> member entry JSON
//	message:{messageId}:processed  delivery dedup marker
//
// All presence keys carry TTLs so state left behind by a crashed
// instance disappears on its own.
package redis
