//go:build !linux

package sensor

func pinToCore(core int) error {
	return nil
}
