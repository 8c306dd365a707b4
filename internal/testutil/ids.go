package testutil

// FixedIDGenerator returns the same command ID every time.
//
// Submitting two commands built with it exercises duplicate detection: the
// engine sees one logical command submitted twice.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator for id.
// If id is empty, Generate returns "test-cmd-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-cmd-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID. Implements command.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
