package codec

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"crypto/cipher"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Frame is a fully decoded packet: its numeric id and its body (everything
// after the id). Body excludes the packet-id varint.
type Frame struct {
	ID   int32
	Body []byte
}

// RawFrame pairs a decoded packet id with the original, unmodified bytes of
// the entire frame payload (id + body) as they arrived on the wire. The
// session forwards RawFrame.Payload byte-for-byte whenever a parser
// declines to rewrite a packet, so untouched packets reach the peer
// byte-identical.
type RawFrame struct {
	ID      int32
	Payload []byte
}

// Conn wraps one socket with the length-prefixed, optionally compressed,
// optionally encrypted frame codec. It owns its
// socket exclusively: only one goroutine may call ReadFrame and only one
// goroutine may call WriteFrame at a time (the connection actor enforces
// this with its single read loop / single write loop split).
type Conn struct {
	raw io.ReadWriteCloser
	br  *bufio.Reader
	bw  *bufio.Writer

	// compressionThreshold is read by the write loop and written only by
	// the read loop (on SET_COMPRESSION). atomic.Int32 gives us the
	// required memory fence without
	// a dedicated mutex.
	compressionThreshold atomic.Int32

	encryptReader io.Reader
	encryptWriter io.Writer
	encMu         sync.Mutex

	writeMu sync.Mutex
}

// NewConn wraps rwc. Compression starts disabled (threshold -1).
func NewConn(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{
		raw: rwc,
		br:  bufio.NewReaderSize(rwc, 8192),
		bw:  bufio.NewWriterSize(rwc, 8192),
	}
	c.compressionThreshold.Store(-1)
	return c
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.raw.Close() }

// SetCompressionThreshold enables (>=0) or disables (-1) compression. It
// takes effect starting with the next frame written or read.
func (c *Conn) SetCompressionThreshold(threshold int32) {
	c.compressionThreshold.Store(threshold)
}

// CompressionThreshold returns the currently active threshold.
func (c *Conn) CompressionThreshold() int32 {
	return c.compressionThreshold.Load()
}

// EnableEncryption wraps the socket's reader and writer with AES/CFB8
// streams, with the shared secret serving as both key and iv. Only the
// client half ever calls this (the server half operates offline-mode).
func (c *Conn) EnableEncryption(block cipher.Block, sharedSecret []byte) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	c.encryptReader = &cipher.StreamReader{S: NewCFB8Decrypter(block, sharedSecret), R: c.br}
	c.encryptWriter = &cipher.StreamWriter{S: NewCFB8Encrypter(block, sharedSecret), W: c.bw}
}

func (c *Conn) reader() io.Reader {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if c.encryptReader != nil {
		return c.encryptReader
	}
	return c.br
}

func (c *Conn) writer() io.Writer {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if c.encryptWriter != nil {
		return c.encryptWriter
	}
	return c.bw
}

// ReadFrame blocks until one complete frame has arrived, decodes its
// packet id, and returns both the decoded id/body and the raw id+body
// bytes for pass-through forwarding.
func (c *Conn) ReadFrame() (RawFrame, error) {
	r := c.reader()

	totalLength, _, err := ReadVarInt(r)
	if err != nil {
		return RawFrame{}, err
	}
	if totalLength < 0 || int(totalLength) > MaxFrameLength {
		return RawFrame{}, ErrFrameTooLarge
	}
	frameBody := make([]byte, totalLength)
	if _, err := io.ReadFull(r, frameBody); err != nil {
		return RawFrame{}, errors.Wrap(err, "codec: truncated frame")
	}

	payload := frameBody
	if c.CompressionThreshold() >= 0 {
		br := bytes.NewReader(frameBody)
		uncompressedLength, _, err := ReadVarInt(br)
		if err != nil {
			return RawFrame{}, errors.Wrap(err, "codec: bad uncompressed-length varint")
		}
		rest := frameBody[len(frameBody)-br.Len():]
		if uncompressedLength == 0 {
			payload = rest
		} else {
			zr, err := zlib.NewReader(bytes.NewReader(rest))
			if err != nil {
				return RawFrame{}, errors.Wrap(ErrCompression, err.Error())
			}
			defer zr.Close()
			out := make([]byte, uncompressedLength)
			if _, err := io.ReadFull(zr, out); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return RawFrame{}, errors.Wrap(ErrBadUncompressedLength, "codec: inflated body shorter than declared")
				}
				return RawFrame{}, errors.Wrap(ErrCompression, err.Error())
			}
			// the inflated body must be exactly uncompressedLength bytes
			var extra [1]byte
			if n, _ := zr.Read(extra[:]); n != 0 {
				return RawFrame{}, errors.Wrap(ErrBadUncompressedLength, "codec: inflated body longer than declared")
			}
			payload = out
		}
	}

	id, _, err := ReadVarInt(bytes.NewReader(payload))
	if err != nil {
		return RawFrame{}, errors.Wrap(err, "codec: bad packet id varint")
	}
	return RawFrame{ID: id, Payload: payload}, nil
}

// Body returns the frame payload with the leading packet-id varint
// stripped, i.e. what a Reader should be constructed over.
func (rf RawFrame) Body() []byte {
	_, idLen, _ := ReadVarInt(bytes.NewReader(rf.Payload))
	return rf.Payload[idLen:]
}

// WriteFrame encodes id+body as one frame, applying compression if the
// threshold is set and the payload meets it, and writes it atomically.
func (c *Conn) WriteFrame(id int32, body []byte) error {
	var payload bytes.Buffer
	WriteVarInt(&payload, id)
	payload.Write(body)
	return c.WriteRaw(payload.Bytes())
}

// WriteRaw encodes an already-assembled id+body payload as one frame and
// writes it atomically. Used for pass-through forwarding of frames the
// proxy did not need to rewrite.
func (c *Conn) WriteRaw(payload []byte) error {
	threshold := c.CompressionThreshold()

	var frame bytes.Buffer
	if threshold >= 0 {
		if len(payload) >= int(threshold) {
			var compressed bytes.Buffer
			zw := zlib.NewWriter(&compressed)
			if _, err := zw.Write(payload); err != nil {
				return errors.Wrap(ErrCompression, err.Error())
			}
			if err := zw.Close(); err != nil {
				return errors.Wrap(ErrCompression, err.Error())
			}
			WriteVarInt(&frame, int32(len(payload)))
			frame.Write(compressed.Bytes())
		} else {
			WriteVarInt(&frame, 0)
			frame.Write(payload)
		}
	} else {
		frame.Write(payload)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	w := c.writer()
	if _, err := WriteVarInt(w, int32(frame.Len())); err != nil {
		return err
	}
	if _, err := w.Write(frame.Bytes()); err != nil {
		return err
	}
	return nil
}

// Flush pushes any buffered bytes to the socket. The write loop calls this
// on its coalescing timer / queue-drain boundary. The
// encrypted writer still bottoms out on the same bufio.Writer, so a single
// Flush covers both the plaintext and encrypted paths.
func (c *Conn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.bw.Flush()
}
