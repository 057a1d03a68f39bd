package detector

import (
	"os"
	"path/filepath"
)

// Model file names searched for when no model path is configured.
var modelNames = []string{
	"models/kitchen_safety.onnx",
	"models/best.onnx",
	"kitchen_safety.onnx",
	"best.onnx",
}

// FindModel looks for detector weights next to the working directory, the
// executable and the user's ~/.kitchensafe directory. It returns "" when
// nothing is found.
func FindModel() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}
	home, _ := os.UserHomeDir()

	return findModelIn(modelNames, ".", "..", execDir, filepath.Join(home, ".kitchensafe"))
}

func findModelIn(names []string, dirs ...string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range names {
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
