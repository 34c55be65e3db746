package pocketmesh

import (
	"testing"

	"github.com/mikewren/PocketMesh-sub010/models"
	"github.com/mikewren/PocketMesh-sub010/protocol"
)

func FuzzDecode(f *testing.F) {
	// Seed corpus with valid frames of every shape
	f.Add([]byte{0x00})                                     // ok
	f.Add([]byte{0x01, 0x05})                               // error code
	f.Add([]byte{0x02, 0x02, 0x00, 0x00, 0x00})             // contacts start
	f.Add([]byte{0x09, 0x80, 0x00, 0x92, 0x65})             // current time
	f.Add([]byte{0x83})                                     // messages waiting
	f.Add(append([]byte{0x80}, make([]byte, 32)...))        // advertisement
	f.Add([]byte{0x82, 0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0}) // delivery confirmed
	f.Add(append([]byte{0x03}, make([]byte, 147)...))       // contact record
	f.Add([]byte{0x89, 0x00, 0x02, 0x00, 1, 0, 0, 0, 2, 0, 0, 0, 0xA1, 0xB2, 4, 8, 12}) // trace
	f.Add([]byte{0x8B, 0, 0, 0, 0, 0, 0, 0x01, 0x67, 0x00, 0xFF})                       // telemetry
	f.Add([]byte{0xFF, 0xFF})                               // unknown code

	f.Fuzz(func(t *testing.T, data []byte) {
		ev := protocol.Decode(data) // must never panic
		if ev == nil {
			t.Fatal("Decode returned nil event")
		}
		if len(data) == 0 {
			if _, ok := ev.(models.ParseFailure); !ok {
				t.Fatalf("empty frame decoded to %T, want ParseFailure", ev)
			}
		}
	})
}
