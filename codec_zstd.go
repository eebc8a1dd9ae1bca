//go:build !nozstd

package shelf

import (
	"io"

	"github.com/DataDog/zstd"
)

type zstdAlgorithm struct{}

func (zstdAlgorithm) Name() string { return "zstd" }
func (zstdAlgorithm) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w), nil
}
func (zstdAlgorithm) NewReader(r io.Reader) (io.ReadCloser, error) {
	return zstd.NewReader(r), nil
}

func init() {
	RegisterAlgorithm(zstdAlgorithm{})
}
