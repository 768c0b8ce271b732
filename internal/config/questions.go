package config

import (
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/brandscan/internal/model"
)

// QuestionSet is a named, versioned collection of diagnosis questions
// loaded from YAML.
type QuestionSet struct {
	Name      string           `yaml:"name"`
	Version   string           `yaml:"version"`
	Questions []model.Question `yaml:"questions"`
}

// LoadQuestionSet reads a question set from a YAML file. Questions without
// explicit IDs get positional ones.
func LoadQuestionSet(path string) (*QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read question set %s", path)
	}

	// The YAML has a top-level "question_set" key
	var wrapper struct {
		QuestionSet QuestionSet `yaml:"question_set"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "config: parse question set %s", path)
	}

	set := &wrapper.QuestionSet
	if len(set.Questions) == 0 {
		return nil, eris.Errorf("config: question set %s has no questions", path)
	}

	for i := range set.Questions {
		if set.Questions[i].Text == "" {
			return nil, eris.Errorf("config: question %d in %s has empty text", i, path)
		}
		if set.Questions[i].ID == "" {
			set.Questions[i].ID = "q" + strconv.Itoa(i+1)
		}
	}

	return set, nil
}
