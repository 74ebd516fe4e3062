package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Write the snapshot image to path and, if the snapshot has keypoints, a
// keypoint list next to it.
func writeSnapshot(path string, snap *snapper.Snapshot) error {
	format, err := snapper.FormatFromExt(path)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = snap.Image.Encode(f, format); err != nil {
		f.Close()
		return fmt.Errorf("could not encode %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return err
	}

	if len(snap.Keypoints) == 0 {
		return nil
	}
	return writeKeypoints(keypointsPath(path), snap.Keypoints)
}

func keypointsPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".keypoints.yaml"
}

func writeKeypoints(path string, points []snapper.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = snapper.WriteKeypoints(f, points); err != nil {
		f.Close()
		return fmt.Errorf("could not write keypoints to %s: %w", path, err)
	}
	return f.Close()
}
