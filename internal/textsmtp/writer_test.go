// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package textsmtp_test

import (
	"bufio"
	"bytes"
	"math/rand"
	legacy "net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliadelelroby/Greenhouse-sub000/internal/textsmtp"
)

func chunkSlice(slice []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for len(slice) > 0 {
		if len(slice) < chunkSize {
			chunkSize = len(slice)
		}
		chunks = append(chunks, slice[:chunkSize])
		slice = slice[chunkSize:]
	}
	return chunks
}

// checkAgainstLegacy writes b in chunks of every size up to 64 and compares
// the output with net/textproto.
func checkAgainstLegacy(t *testing.T, b []byte) {
	t.Helper()

	var want bytes.Buffer
	f := legacy.NewWriter(bufio.NewWriter(&want)).DotWriter()
	_, err := f.Write(b)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	for size := 1; size <= 64 && size <= len(b); size++ {
		var got bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&got))
		for _, chunk := range chunkSlice(b, size) {
			_, err = d.Write(chunk)
			require.NoError(t, err)
		}
		require.NoError(t, d.Close())
		require.Equal(t, want.String(), got.String(), "chunk size %d, input %q", size, b)
		require.Equal(t, int64(got.Len()), d.Written())
	}
}

func TestDotWriter(t *testing.T) {
	t.Run("AgainstLegacy", func(t *testing.T) {
		inputs := []string{
			"hello\r\n",
			".\r\n",
			"..\n.\n",
			"From: a@b.c\r\nSubject: hi\r\n\r\n.leading\r\nmiddle.\r\n.\r\n",
			"no newline at end",
			".starts with a dot",
		}
		for _, in := range inputs {
			checkAgainstLegacy(t, []byte(in))
		}
	})

	t.Run("AgainstLegacyRandom", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(7))
		tokens := []string{"a", "b", ".", "\n", "\r\n"}
		for i := 0; i < 200; i++ {
			var b []byte
			for j := 1 + rnd.Intn(60); j > 0; j-- {
				b = append(b, tokens[rnd.Intn(len(tokens))]...)
			}
			checkAgainstLegacy(t, b)
		}
	})

	t.Run("Encode", func(t *testing.T) {
		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		n, err := d.Write([]byte("abc\n.def\n..ghi\n.jkl\n."))
		require.NoError(t, err)
		assert.Equal(t, 21, n)
		require.NoError(t, d.Close())
		assert.Equal(t, "abc\r\n..def\r\n...ghi\r\n..jkl\r\n..\r\n.\r\n", buf.String())
	})

	t.Run("EncodeCRLF", func(t *testing.T) {
		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		n, err := d.Write([]byte("abc\r\n.def\r\n..ghi\r\n.jkl\r\n."))
		require.NoError(t, err)
		assert.Equal(t, 25, n)
		require.NoError(t, d.Close())
		assert.Equal(t, "abc\r\n..def\r\n...ghi\r\n..jkl\r\n..\r\n.\r\n", buf.String())
	})

	t.Run("LeadingDot", func(t *testing.T) {
		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		_, err := d.Write([]byte(".hidden\r\n"))
		require.NoError(t, err)
		require.NoError(t, d.Close())
		assert.Equal(t, "..hidden\r\n.\r\n", buf.String())
	})

	t.Run("SeparateWritesSplitCRLF", func(t *testing.T) {
		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		_, err := d.Write([]byte("abc\r"))
		require.NoError(t, err)
		_, err = d.Write([]byte("\n.def\r\n..ghi\r\n.jkl\r"))
		require.NoError(t, err)
		require.NoError(t, d.Close())
		// a trailing \r is closed as a line break
		assert.Equal(t, "abc\r\n..def\r\n...ghi\r\n..jkl\r\n.\r\n", buf.String())
	})

	t.Run("SeparateWritesInnerCR", func(t *testing.T) {
		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		_, err := d.Write([]byte("abc\r"))
		require.NoError(t, err)
		_, err = d.Write([]byte("\n.def\r..ghi\r\n.jkl\r"))
		require.NoError(t, err)
		require.NoError(t, d.Close())
		assert.Equal(t, "abc\r\n..def\r\n...ghi\r\n..jkl\r\n.\r\n", buf.String())
	})

	t.Run("BareCR", func(t *testing.T) {
		in := []byte("a\rb\r\r\n.c\r.d")
		want := "a\r\nb\r\n\r\n..c\r\n..d\r\n.\r\n"
		for size := 1; size <= len(in); size++ {
			var buf bytes.Buffer
			d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
			for _, chunk := range chunkSlice(in, size) {
				_, err := d.Write(chunk)
				require.NoError(t, err)
			}
			require.NoError(t, d.Close())
			require.Equal(t, want, buf.String(), "chunk size %d", size)
		}
	})
}

func TestDotWriterCloseNoWrite(t *testing.T) {
	var buf bytes.Buffer
	d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
	n, err := d.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, d.Close())
	assert.Equal(t, "\r\n.\r\n", buf.String())
}

// No line of the encoded output is a lone "." before the terminator.
func TestDotWriterNeverEndsEarly(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		var in strings.Builder
		for j := rnd.Intn(20); j >= 0; j-- {
			in.WriteString(strings.Repeat(".", rnd.Intn(3)))
			in.WriteString([]string{"", "x", "x."}[rnd.Intn(3)])
			in.WriteString([]string{"\n", "\r\n"}[rnd.Intn(2)])
		}

		var buf bytes.Buffer
		d := textsmtp.NewDotWriter(bufio.NewWriter(&buf))
		_, err := d.Write([]byte(in.String()))
		require.NoError(t, err)
		require.NoError(t, d.Close())

		lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
		require.Equal(t, ".", lines[len(lines)-1])
		for _, line := range lines[:len(lines)-1] {
			require.NotEqual(t, ".", line)
		}
	}
}
