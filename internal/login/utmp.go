package login

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// Session accounting record layout, matching the glibc utmp structure on
// Linux (384 bytes, little-endian, 32-bit times for compatibility).
const (
	userProcess = 7 // ut_type for a logged-in session

	utLineSize = 32
	utIDSize   = 4
	utUserSize = 32
	utHostSize = 256
)

// utmpRecord mirrors struct utmp.
type utmpRecord struct {
	Type    int16
	_       int16 // alignment padding
	PID     int32
	Line    [utLineSize]byte
	ID      [utIDSize]byte
	User    [utUserSize]byte
	Host    [utHostSize]byte
	Exit    int32 // struct exit_status
	Session int32
	Sec     int32
	Usec    int32
	AddrV6  [4]int32
	Unused  [20]byte
}

// newUTMPRecord builds a USER_PROCESS record for the session.
func newUTMPRecord(user, line string, pid int, now time.Time) utmpRecord {
	var rec utmpRecord
	rec.Type = userProcess
	rec.PID = int32(pid)
	copy(rec.Line[:], line)
	if len(line) >= utIDSize {
		copy(rec.ID[:], line[len(line)-utIDSize:])
	} else {
		copy(rec.ID[:], line)
	}
	copy(rec.User[:], user)
	rec.Sec = int32(now.Unix())
	rec.Usec = int32(now.Nanosecond() / 1000)
	return rec
}

// WriteSessionRecords registers the session: the utmp slot for the line
// is updated in place (or appended), and the same record is appended to
// wtmp for history. Accounting failures are reported but must never block
// a login.
func WriteSessionRecords(utmpPath, wtmpPath, user, line string, pid int, now time.Time) error {
	rec := newUTMPRecord(user, line, pid, now)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &rec); err != nil {
		return fmt.Errorf("login: utmp encode: %w", err)
	}
	encoded := buf.Bytes()

	if err := updateUTMP(utmpPath, encoded, rec.Line); err != nil {
		return err
	}

	wtmp, err := os.OpenFile(wtmpPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o664)
	if err != nil {
		return fmt.Errorf("login: wtmp: %w", err)
	}
	defer wtmp.Close()
	if _, err := wtmp.Write(encoded); err != nil {
		return fmt.Errorf("login: wtmp: %w", err)
	}
	return nil
}

// updateUTMP replaces the record occupying this line's slot, appending
// when the line has no slot yet. The pututline equivalent.
func updateUTMP(path string, encoded []byte, line [utLineSize]byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o664)
	if err != nil {
		return fmt.Errorf("login: utmp: %w", err)
	}
	defer f.Close()

	recSize := int64(len(encoded))
	var offset int64
	slot := make([]byte, recSize)
	for {
		n, err := f.ReadAt(slot, offset)
		if int64(n) < recSize || err != nil {
			break // end of file: append
		}
		var existing utmpRecord
		if binary.Read(bytes.NewReader(slot), binary.LittleEndian, &existing) == nil &&
			existing.Line == line {
			break // reuse this line's slot
		}
		offset += recSize
	}

	if _, err := f.WriteAt(encoded, offset); err != nil {
		return fmt.Errorf("login: utmp: %w", err)
	}
	return nil
}
