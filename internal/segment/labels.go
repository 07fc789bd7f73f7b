package segment

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// FallbackName is announced when a class id has no registered name.
const FallbackName = "Obstacle"

// ade20k lists the 150 ADE20K scene-parsing classes in id order.
var ade20k = [...]string{
	"wall", "building", "sky", "floor", "tree", "ceiling", "road", "bed", "window", "grass",
	"cabinet", "sidewalk", "person", "ground", "door", "table", "mountain", "plant", "curtain", "chair",
	"car", "water", "painting", "sofa", "shelf", "house", "sea", "mirror", "carpet", "field",
	"armchair", "seat", "fence", "desk", "rock", "wardrobe", "lamp", "bathtub", "railing", "cushion",
	"stand", "box", "pillar", "signboard", "chest", "counter", "sand", "sink", "skyscraper", "fireplace",
	"refrigerator", "grandstand", "path", "stairs", "runway", "case", "pool", "pillow", "screen door", "stairway",
	"river", "bridge", "bookcase", "blind", "small table", "toilet", "flower", "book", "hill", "bench",
	"countertop", "stove", "palm", "kitchen", "computer", "swivel", "boat", "bar", "arcade", "hovel",
	"bus", "towel", "light", "truck", "tower", "chandelier", "awning", "streetlight", "booth", "television",
	"airplane", "dirt", "apparel", "pole", "land", "bannister", "escalator", "ottoman", "bottle", "buffet",
	"poster", "stage", "van", "ship", "fountain", "conveyor", "canopy", "washer", "plaything", "swimming pool",
	"stool", "barrel", "basket", "waterfall", "tent", "bag", "minibike", "cradle", "oven", "ball",
	"food", "step", "tank", "trade", "microwave", "pot", "animal", "bicycle", "lake", "dishwasher",
	"screen", "blanket", "sculpture", "hood", "sconce", "vase", "traffic light", "tray", "trash can", "fan",
	"pier", "screen", "plate", "monitor", "bulletin board", "shower", "radiator", "glass", "clock", "flag",
}

// NumADE20KClasses is the class count of the default table.
const NumADE20KClasses = len(ade20k)

// DefaultIgnoreIDs are walkable or background surfaces in ADE20K:
// sky, floor, road, sidewalk, ground and path.
var DefaultIgnoreIDs = []int{2, 3, 6, 11, 13, 52}

// Labels maps class ids to human-readable names.
type Labels map[int]string

// Name returns the registered name for id.
func (l Labels) Name(id int) (string, bool) {
	name, ok := l[id]
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// NameOr returns the registered name for id or FallbackName.
func (l Labels) NameOr(id int) string {
	if name, ok := l.Name(id); ok {
		return name
	}
	return FallbackName
}

// IDs returns the registered class ids in ascending order.
func (l Labels) IDs() []int {
	ids := make([]int, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NormalizeName trims, NFC-normalizes and title-cases a class name so that
// "traffic light" is announced as "Traffic Light".
func NormalizeName(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	return cases.Title(language.English).String(s)
}

// ADE20K returns the default class table with normalized names.
func ADE20K() Labels {
	l := make(Labels, len(ade20k))
	for id, name := range ade20k {
		l[id] = NormalizeName(name)
	}
	return l
}

// LabelFile is the on-disk YAML class table:
//
//	names: [wall, building, sky]   # index is the class id
//	overrides: {12: pedestrian}
//	ignore: [2]
type LabelFile struct {
	Names     []string       `yaml:"names"`
	Overrides map[int]string `yaml:"overrides,omitempty"`
	Ignore    []int          `yaml:"ignore,omitempty"`
}

// Labels builds a normalized class table from the file contents.
func (f LabelFile) Labels() Labels {
	l := make(Labels, len(f.Names)+len(f.Overrides))
	for id, name := range f.Names {
		if name = NormalizeName(name); name != "" {
			l[id] = name
		}
	}
	for id, name := range f.Overrides {
		if name = NormalizeName(name); name != "" {
			l[id] = name
		}
	}
	return l
}

// LoadLabelFile reads and validates a YAML class table.
func LoadLabelFile(path string) (LabelFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-configured labels path
	if err != nil {
		return LabelFile{}, fmt.Errorf("failed to read labels file: %w", err)
	}
	var f LabelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return LabelFile{}, fmt.Errorf("failed to parse labels file %s: %w", path, err)
	}
	if len(f.Names) == 0 && len(f.Overrides) == 0 {
		return LabelFile{}, errors.New("labels file defines no class names")
	}
	for id := range f.Overrides {
		if id < 0 {
			return LabelFile{}, fmt.Errorf("negative class id %d in overrides", id)
		}
	}
	for _, id := range f.Ignore {
		if id < 0 {
			return LabelFile{}, fmt.Errorf("negative class id %d in ignore list", id)
		}
	}
	return f, nil
}
