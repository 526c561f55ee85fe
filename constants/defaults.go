package constants

import "time"

const (
	PROTOCOL_VERSION   = 0x01000000      // ADB protocol version we speak
	LEGACY_MAX_PAYLOAD = 4 * 1024        // Pre-negotiation payload ceiling
	MAX_PAYLOAD        = 1024 * 1024     // Payload size we offer in CNXN
	SYNC_CHUNK_SIZE    = 64 * 1024       // Upper bound for one FileSync DATA chunk
	STREAM_INBOX_DEPTH = 32              // Buffered inbound frames per stream before acks stall
	DEFAULT_TCP_PORT   = 5555            // adbd TCP port
	DEFAULT_DSCP       = 0x0A            // QoS for high throughput
	DEFAULT_TIMEOUT    = 10 * time.Second
	AUTH_TIMEOUT       = 30 * time.Second // Time allowed for on-device key approval
	FASTBOOT_RESPONSE  = 64               // Fastboot responses are at most 64 bytes
	FASTBOOT_CHUNK     = 1024 * 1024      // Fastboot download chunk size
)

// SyncLZ4Feature gates the compressed FileSync chunk extension. Both banners
// must advertise it.
const SyncLZ4Feature = "syncv2.lz4"
