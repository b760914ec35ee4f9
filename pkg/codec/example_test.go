package codec_test

import (
	"fmt"
	"log"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/ssargent/bulkline/pkg/codec"
)

// ExampleEntryCodec demonstrates journaling one record of a batch
func ExampleEntryCodec() {
	c := codec.NewEntryCodec()

	entry, err := codec.NewEntry(ksuid.New(), 0, time.Unix(1719043200, 0), []byte("cmd1"))
	if err != nil {
		log.Fatal(err)
	}
	encoded, err := c.Encode(entry)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Encoded %d bytes\n", len(encoded))

	decoded, err := c.Decode(encoded)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Data: %s\n", decoded.Data)
	fmt.Printf("Timestamp: %d\n", decoded.Timestamp)

	// Output:
	// Encoded 44 bytes
	// Data: cmd1
	// Timestamp: 1719043200
}
