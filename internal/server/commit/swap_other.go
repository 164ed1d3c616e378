//go:build !linux

package commit

func exchange(a, b string) error {
	return errExchangeUnsupported
}
