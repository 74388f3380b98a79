package handler

import (
	"fmt"
	"io"
	"sync"
)

const copyBufferSize = 32 * 1024

var copyBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// copyStream copies src to dst through a fixed-size pooled buffer so memory
// stays constant regardless of payload size. Read and write failures are
// both returned, wrapped so the side that failed is visible.
func copyStream(dst io.Writer, src io.Reader) (int64, error) {
	bp := copyBuffers.Get().(*[]byte)
	defer copyBuffers.Put(bp)
	buf := *bp

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, fmt.Errorf("write to client: %w", werr)
			}
			if nw != nr {
				return written, fmt.Errorf("write to client: %w", io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read upstream body: %w", rerr)
		}
	}
}
