package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/airbusgeo/cdse-dl/common"
	"github.com/airbusgeo/cdse-dl/service"
	"github.com/airbusgeo/cdse-dl/service/log"
	"github.com/airbusgeo/cdse-dl/service/metrics"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

const hashBlockSize = 1 << 20

type hashAlgorithm struct {
	name    string
	aliases []string
	new     func() hash.Hash
}

// checksumPriority lists the supported algorithms, the strongest first
var checksumPriority = []hashAlgorithm{
	{name: "BLAKE3", new: func() hash.Hash { return blake3.New() }},
	{name: "SHA3-256", aliases: []string{"SHA3_256", "SHA3256"}, new: func() hash.Hash { return sha3.New256() }},
	{name: "MD5", new: md5.New},
}

// ErrNoChecksum is returned by SelectChecksum when none of the checksums is supported
var ErrNoChecksum = errors.New("no supported checksum")

func (h hashAlgorithm) match(name string) bool {
	if strings.EqualFold(h.name, name) {
		return true
	}
	for _, a := range h.aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// SelectChecksum returns the checksum to verify: BLAKE3 first, then SHA3-256, then MD5
func SelectChecksum(checksums []common.Checksum) (common.Checksum, error) {
	for _, h := range checksumPriority {
		for _, c := range checksums {
			if c.Value != "" && h.match(c.Algorithm) {
				return c, nil
			}
		}
	}
	return common.Checksum{}, ErrNoChecksum
}

// FileHash computes the hex digest of a file with the given algorithm, reading it by blocks of 1MiB
func FileHash(ctx context.Context, path, algorithm string) (string, error) {
	var h hash.Hash
	for _, a := range checksumPriority {
		if a.match(algorithm) {
			h = a.new()
			break
		}
	}
	if h == nil {
		return "", fmt.Errorf("FileHash: unsupported algorithm %s", algorithm)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("FileHash.Open: %w", err)
	}
	defer f.Close()

	buf := make([]byte, hashBlockSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("FileHash.Read: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks the file against the strongest supported checksum.
// If the product has no checksum, a warning is logged and nil is returned.
// If none of its checksums is supported, ErrNoChecksum is returned.
// On mismatch, the file is kept and an IntegrityError is returned.
func VerifyFile(ctx context.Context, path string, checksums []common.Checksum) error {
	if len(checksums) == 0 {
		log.Logger(ctx).Sugar().Warnf("no checksum available for %s: integrity not verified", path)
		return nil
	}
	c, err := SelectChecksum(checksums)
	if err != nil {
		algorithms := make([]string, 0, len(checksums))
		for _, c := range checksums {
			algorithms = append(algorithms, c.Algorithm)
		}
		return fmt.Errorf("VerifyFile[%s]: %w (%s)", path, err, strings.Join(algorithms, ","))
	}
	actual, err := FileHash(ctx, path, c.Algorithm)
	if err != nil {
		return fmt.Errorf("VerifyFile.%w", err)
	}
	if !strings.EqualFold(actual, c.Value) {
		metrics.ChecksumFailures.WithLabelValues(strings.ToUpper(c.Algorithm)).Inc()
		return &service.IntegrityError{Path: path, Algorithm: c.Algorithm, Expected: c.Value, Actual: actual}
	}
	log.Logger(ctx).Sugar().Debugf("%s checksum verified", c.Algorithm)
	return nil
}
