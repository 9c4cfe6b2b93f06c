// Package roster holds the metadata of the entities being clustered.
package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Member describes one legislator. Its position in the roster is its entity
// index in the dissimilarity matrix.
type Member struct {
	Name  string `yaml:"name"`
	Party string `yaml:"party"`
	State string `yaml:"state"`
}

// Roster is the ordered member list.
type Roster struct {
	Members []Member `yaml:"members"`
}

// Load reads a roster YAML file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}
	return &r, nil
}

// Len returns the number of members.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Members)
}

// Member returns the member at an entity index.
func (r *Roster) Member(index int) (Member, bool) {
	if r == nil || index < 0 || index >= len(r.Members) {
		return Member{}, false
	}
	return r.Members[index], true
}

// Label returns a short display label such as "Smith[D:OH]", or the bare
// index when the member is unknown.
func (r *Roster) Label(index int) string {
	m, ok := r.Member(index)
	if !ok {
		return fmt.Sprintf("%d", index)
	}
	party := "?"
	if m.Party != "" {
		party = m.Party[:1]
	}
	return fmt.Sprintf("%s[%s:%s]", m.Name, party, m.State)
}
