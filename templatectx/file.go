package templatectx

import "os"

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 -- path already passed the security gate upstream
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
