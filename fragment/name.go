package fragment

import "fmt"

// FileName builds the on-disk fragment filename:
// "{session_uuid}-{fragment_uuid}-{file_sequence}.glf".
func FileName(sessionID, fragmentID string, fileSequence uint32) string {
	return fmt.Sprintf("%s-%s-%d.glf", sessionID, fragmentID, fileSequence)
}
