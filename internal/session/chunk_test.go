//go:build test

package session_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// ChunkWriterTestSuite tests streaming writes split at the link's write length.
type ChunkWriterTestSuite struct {
	connectedSuite
}

func (s *ChunkWriterTestSuite) SetupTest() {
	s.WithPeripheral().
		WithMTU(23).
		WithService("6E400001-B5A3-F393-E0A9-E50E24DCCA9E").
		WithCharacteristic("6E400002-B5A3-F393-E0A9-E50E24DCCA9E", "write,write-without-response", nil)
	s.MockPlatformSuite.SetupTest()
	s.Config.PreferredMTU = 23
}

func (s *ChunkWriterTestSuite) writes() [][]byte {
	var out [][]byte
	for _, call := range s.Peripheral.Client.Calls {
		if call.Method == "WriteCharacteristic" {
			out = append(out, call.Arguments.Get(1).([]byte))
		}
	}
	return out
}

func (s *ChunkWriterTestSuite) TestWriteSplitsIntoChunks() {
	// GOAL: Verify a stream is written in chunks of the maximum write length
	//
	// TEST SCENARIO: MTU 23 → write 45 bytes → two 20 byte chunks → close → 5 byte remainder

	sess := s.connect()
	s.discover(sess)

	rx := bluetooth.Characteristic{UUID: "6e400002b5a3f393e0a9e50e24dcca9e"}
	w := sess.NewChunkWriter(rx, bluetooth.WriteWithoutResponse, 0)

	payload := bytes.Repeat([]byte("0123456789"), 4)
	payload = append(payload, []byte("abcde")...)

	n, err := w.Write(payload)
	s.Require().NoError(err)
	s.Equal(len(payload), n)
	s.Len(s.writes(), 2, "only complete chunks MUST be sent before Close")

	s.Require().NoError(w.Close())

	chunks := s.writes()
	s.Require().Len(chunks, 3)
	s.Len(chunks[0], 20)
	s.Len(chunks[1], 20)
	s.Equal([]byte("abcde"), chunks[2])
	s.Equal(payload, bytes.Join(chunks, nil))

	s.Empty(s.Recorder.Named("DidWriteValue"), "chunk writes MUST NOT be reported to the delegate")

	_, err = w.Write([]byte{1})
	s.Error(err, "writes after Close MUST fail")
}

func (s *ChunkWriterTestSuite) TestWriteFailsWhenDisconnected() {
	sess := s.connect()
	s.discover(sess)

	w := sess.NewChunkWriter(bluetooth.Characteristic{UUID: "6e400002b5a3f393e0a9e50e24dcca9e"}, bluetooth.WriteWithResponse, 0)

	s.manager.CancelConnection(peripheralID)
	s.WaitFor("DidDisconnect", 1)

	_, err := w.Write([]byte("hello"))
	s.Require().NoError(err, "short writes are only buffered")

	err = w.Flush()
	s.ErrorIs(err, bluetooth.ErrNotConnected)
}

func TestChunkWriterTestSuite(t *testing.T) {
	suite.Run(t, new(ChunkWriterTestSuite))
}
