// Package wn18 loads the WN18 knowledge graph dataset: WordNet entities
// with their glosses, the 18 relation types, and the train/valid/test
// triple sets, in the `wordnet-mlj12-*` file layout.
package wn18

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Relations are the 18 relation types of WN18, in a fixed order that
// defines their dense indices.
var Relations = []string{
	"_hyponym",
	"_hypernym",
	"_member_holonym",
	"_member_meronym",
	"_instance_hyponym",
	"_instance_hypernym",
	"_has_part",
	"_part_of",
	"_member_of_domain_topic",
	"_synset_domain_topic_of",
	"_member_of_domain_usage",
	"_synset_domain_usage_of",
	"_member_of_domain_region",
	"_synset_domain_region_of",
	"_derivationally_related_form",
	"_also_see",
	"_verb_group",
	"_similar_to",
}

// Entity is one WordNet synset: its id in the dataset files, the word it
// names and its gloss.
type Entity struct {
	ID, Word, Gloss string
}

// Definitions holds the entity table of WN18 and the mapping of entity ids
// and relation names to their dense indices.
type Definitions struct {
	entities      []Entity
	entityIndex   map[string]int32
	relationIndex map[string]int32
}

// LoadDefinitions parses `wordnet-mlj12-definitions.txt`: one entity per
// line, tab-separated id, word and gloss. The line order defines the dense
// entity indices.
func LoadDefinitions(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open definitions file %q", path)
	}
	defer func() { _ = f.Close() }()

	d := &Definitions{
		entityIndex:   make(map[string]int32),
		relationIndex: make(map[string]int32, len(Relations)),
	}
	for ii, name := range Relations {
		d.relationIndex[name] = int32(ii)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			return nil, errors.Errorf("%s:%d: expected 3 tab-separated fields, got %d", path, lineNum, len(parts))
		}
		id := parts[0]
		if _, found := d.entityIndex[id]; found {
			return nil, errors.Errorf("%s:%d: duplicate entity id %q", path, lineNum, id)
		}
		d.entityIndex[id] = int32(len(d.entities))
		d.entities = append(d.entities, Entity{ID: id, Word: parts[1], Gloss: parts[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading %q", path)
	}
	if len(d.entities) == 0 {
		return nil, errors.Errorf("no entities found in %q", path)
	}
	return d, nil
}

// NumEntities returns the number of entities.
func (d *Definitions) NumEntities() int { return len(d.entities) }

// NumRelations returns the number of relation types.
func (d *Definitions) NumRelations() int { return len(Relations) }

// Entity returns the entity at the given dense index.
func (d *Definitions) Entity(index int32) Entity { return d.entities[index] }

// EntityIndex returns the dense index of the entity with the given dataset
// id.
func (d *Definitions) EntityIndex(id string) (int32, bool) {
	index, found := d.entityIndex[id]
	return index, found
}

// RelationIndex returns the dense index of the relation with the given
// name.
func (d *Definitions) RelationIndex(name string) (int32, bool) {
	index, found := d.relationIndex[name]
	return index, found
}

// Triple is one (head, relation, tail) fact, in dense indices.
type Triple struct {
	Head, Relation, Tail int32
}

// LoadTriples parses `wordnet-mlj12-<subset>.txt` under dir: one triple per
// line, tab-separated head entity id, relation name and tail entity id.
// Subset is one of "train", "valid" or "test".
func LoadTriples(dir, subset string, defs *Definitions) ([]Triple, error) {
	path := filepath.Join(dir, fmt.Sprintf("wordnet-mlj12-%s.txt", subset))
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open triples file %q", path)
	}
	defer func() { _ = f.Close() }()

	var triples []Triple
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			return nil, errors.Errorf("%s:%d: expected 3 tab-separated fields, got %d", path, lineNum, len(parts))
		}
		head, found := defs.EntityIndex(parts[0])
		if !found {
			return nil, errors.Errorf("%s:%d: unknown head entity %q", path, lineNum, parts[0])
		}
		relation, found := defs.RelationIndex(parts[1])
		if !found {
			return nil, errors.Errorf("%s:%d: unknown relation %q", path, lineNum, parts[1])
		}
		tail, found := defs.EntityIndex(parts[2])
		if !found {
			return nil, errors.Errorf("%s:%d: unknown tail entity %q", path, lineNum, parts[2])
		}
		triples = append(triples, Triple{Head: head, Relation: relation, Tail: tail})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading %q", path)
	}
	if len(triples) == 0 {
		return nil, errors.Errorf("no triples found in %q", path)
	}
	return triples, nil
}
