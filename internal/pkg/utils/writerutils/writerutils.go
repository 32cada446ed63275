package writerutils

import (
	"errors"
	"io"
	"os"
)

// SafeFile wraps a file so Close flushes its contents to the disk.
type SafeFile struct {
	f *os.File
}

func NewSafeFileWriter(f *os.File) io.WriteCloser {
	return &SafeFile{f: f}
}

func (s SafeFile) Write(p []byte) (n int, err error) {
	return s.f.Write(p)
}

func (s SafeFile) Close() error {
	return errors.Join(
		s.f.Sync(),
		s.f.Close(),
	)
}
