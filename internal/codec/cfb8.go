package codec

import "crypto/cipher"

// CFB8 is not part of the Go standard library's cipher package (only CFB
// with the cipher's full block size is). The protocol's session encryption
// requires 8-bit CFB specifically, so this implements the cipher.Stream
// interface by hand: a one-byte shift register driven by the block cipher,
// the same construction the game's own login encryption handshake uses.

type cfb8 struct {
	block   cipher.Block
	shift   []byte
	tmp     []byte
	decrypt bool
}

// NewCFB8Encrypter returns a stream cipher that encrypts using 8-bit CFB
// mode with the given block cipher and IV, which must be the same length
// as the block's block size.
func NewCFB8Encrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, false)
}

// NewCFB8Decrypter returns a stream cipher that decrypts using 8-bit CFB
// mode with the given block cipher and IV.
func NewCFB8Decrypter(block cipher.Block, iv []byte) cipher.Stream {
	return newCFB8(block, iv, true)
}

func newCFB8(block cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	bs := block.BlockSize()
	shift := make([]byte, bs)
	copy(shift, iv)
	return &cfb8{
		block:   block,
		shift:   shift,
		tmp:     make([]byte, bs),
		decrypt: decrypt,
	}
}

func (c *cfb8) XORKeyStream(dst, src []byte) {
	bs := c.block.BlockSize()
	for i := range src {
		c.block.Encrypt(c.tmp, c.shift)
		ks := c.tmp[0]
		var cipherByte byte
		if c.decrypt {
			cipherByte = src[i]
			dst[i] = src[i] ^ ks
		} else {
			dst[i] = src[i] ^ ks
			cipherByte = dst[i]
		}
		copy(c.shift, c.shift[1:bs])
		c.shift[bs-1] = cipherByte
	}
}
