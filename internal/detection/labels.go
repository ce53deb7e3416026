// Package detection runs object detection over camera-trap photographs and
// orchestrates asynchronous detection jobs.
package detection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// LabelSet maps model class indices to species labels. The order of the
// labels matches the model's output tensor.
type LabelSet struct {
	classes []string
	display map[string]string
	members map[string]struct{}
}

// labelFile is the on-disk yaml representation of a label set.
type labelFile struct {
	Labels  []string          `yaml:"labels"`
	Display map[string]string `yaml:"display,omitempty"`
}

// defaultLabels is used when no label file is configured. These are the
// species the bundled model was trained on.
var defaultLabels = labelFile{
	Labels: []string{"deer", "pig", "racoon"},
	Display: map[string]string{
		"deer":   "Water Deer",
		"pig":    "Wild Boar",
		"racoon": "Raccoon Dog",
	},
}

// LoadLabels reads a label set from a yaml file, or returns the built-in
// set when path is empty.
func LoadLabels(path string) (*LabelSet, error) {
	file := defaultLabels
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(fmt.Errorf("reading label file: %w", err)).
				Component("detection").
				Category(errors.CategoryLabelLoad).
				Context("path", path).
				Build()
		}
		file = labelFile{}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.New(fmt.Errorf("parsing label file: %w", err)).
				Component("detection").
				Category(errors.CategoryLabelLoad).
				Context("path", path).
				Build()
		}
		if len(file.Labels) == 0 {
			return nil, errors.Newf("label file %s contains no labels", path).
				Component("detection").
				Category(errors.CategoryLabelLoad).
				Build()
		}
	}

	members := make(map[string]struct{}, len(file.Labels))
	for _, label := range file.Labels {
		members[label] = struct{}{}
	}

	return &LabelSet{
		classes: file.Labels,
		display: file.Display,
		members: members,
	}, nil
}

// Count returns the number of classes in the set.
func (ls *LabelSet) Count() int {
	return len(ls.classes)
}

// ClassName returns the label for a model class index, or empty when the
// index is out of range.
func (ls *LabelSet) ClassName(index int) string {
	if index < 0 || index >= len(ls.classes) {
		return ""
	}
	return ls.classes[index]
}

// Contains reports whether class is a member of the set.
func (ls *LabelSet) Contains(class string) bool {
	_, ok := ls.members[class]
	return ok
}

// DisplayName returns the human-readable name for a class, falling back to
// the class label itself.
func (ls *LabelSet) DisplayName(class string) string {
	if name, ok := ls.display[class]; ok {
		return name
	}
	return class
}
