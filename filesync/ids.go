package filesync

// FileSync record ids, little-endian values of their 4-byte ASCII tags.
// These nest inside WRTE payloads and are distinct from the outer message
// command words.
const (
	idSTAT uint32 = 0x54415453
	idLIST uint32 = 0x5453494c
	idSEND uint32 = 0x444e4553
	idRECV uint32 = 0x56434552
	idDENT uint32 = 0x544e4544
	idDONE uint32 = 0x454e4f44
	idDATA uint32 = 0x41544144
	idOKAY uint32 = 0x59414b4f
	idFAIL uint32 = 0x4c494146
	idQUIT uint32 = 0x54495551

	// Compressed-sync extension ids, used only when both banners advertise
	// constants.SyncLZ4Feature.
	idSND2 uint32 = 0x32444e53
	idRCV2 uint32 = 0x32564352
	idDAT2 uint32 = 0x32544144
)

func idString(id uint32) string {
	return string([]byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)})
}
