package downloader

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/airbusgeo/cdse-dl/service/log"
)

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

// progressWriter counts the bytes written in w
type progressWriter struct {
	w       io.Writer
	written atomic.Int64
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written.Add(int64(n))
	return n, err
}

// displayProgress logs the progress every progressPeriod (fraction of total) until done is closed.
// A total <= 0 means unknown: only the number of bytes is logged.
func displayProgress(ctx context.Context, prefix string, size func() int64, complete func() int64, done <-chan struct{}, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, complete(), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			bytes, total := complete(), size()
			if total <= 0 {
				if bytes-lastBytes > 100<<20 {
					log.Logger(ctx).Sugar().Debugf("%s: %s (%s/s)", prefix, fmtBytes(bytes), fmtBytes((bytes-lastBytes)/seconds))
					seconds, lastBytes = 0, bytes
				}
				continue
			}
			if p := float64(bytes) / float64(total); p > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*p, fmtBytes(bytes), fmtBytes(total), fmtBytes((bytes-lastBytes)/seconds))
				seconds = 0
				for progress < p {
					progress += progressPeriod
				}
				lastBytes = bytes
			}

		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
