package episode

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FrameMap maps a frame index to a point-cloud file name.
type FrameMap map[int]string

// DuplicateFrameNameError reports a name mapped by more than one frame.
type DuplicateFrameNameError struct {
	Name   string
	Frames [2]int
}

func (e *DuplicateFrameNameError) Error() string {
	return fmt.Sprintf("point cloud %q is mapped by frames %d and %d", e.Name, e.Frames[0], e.Frames[1])
}

// SynthesizeFrameMap maps frame i to the i-th name in lexicographic order.
func SynthesizeFrameMap(names []string) FrameMap {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	m := make(FrameMap, len(sorted))
	for i, name := range sorted {
		m[i] = name
	}
	return m
}

// ParseFrameMap decodes a {"<frame>": "<name>"} document. Keys must be
// non-negative integers.
func ParseFrameMap(data []byte) (FrameMap, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid frame map: %w", err)
	}
	m := make(FrameMap, len(raw))
	for k, name := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid frame map: key %q is not a non-negative integer", k)
		}
		m[idx] = name
	}
	return m, nil
}

// Inverse builds name -> frame. It fails when two frames share a name.
func (m FrameMap) Inverse() (map[string]int, error) {
	inv := make(map[string]int, len(m))
	for _, idx := range m.Frames() {
		name := m[idx]
		if prev, dup := inv[name]; dup {
			return nil, &DuplicateFrameNameError{Name: name, Frames: [2]int{prev, idx}}
		}
		inv[name] = idx
	}
	return inv, nil
}

// Frames returns the frame indices in ascending order.
func (m FrameMap) Frames() []int {
	frames := make([]int, 0, len(m))
	for idx := range m {
		frames = append(frames, idx)
	}
	sort.Ints(frames)
	return frames
}
