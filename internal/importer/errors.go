package importer

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch means the point-cloud paths and names are not parallel.
var ErrLengthMismatch = errors.New("point cloud paths and names differ in length")

// LookupError reports a point cloud that no frame maps to.
type LookupError struct {
	Dataset string
	Name    string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("dataset %s: point cloud %q is not in the frame map", e.Dataset, e.Name)
}

// SequenceError reports an image upload that returned a different number of
// hashes than images sent.
type SequenceError struct {
	Dataset string
	Images  int
	Hashes  int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("dataset %s: uploaded %d related images but got %d hashes", e.Dataset, e.Images, e.Hashes)
}

// OrphanFrameError reports an annotated frame with no uploaded point cloud.
// Only returned when strict frame checking is on.
type OrphanFrameError struct {
	Dataset string
	Frame   int
}

func (e *OrphanFrameError) Error() string {
	return fmt.Sprintf("dataset %s: annotation frame %d has no point cloud", e.Dataset, e.Frame)
}
