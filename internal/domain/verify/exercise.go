package verify

// Exercise describes one learner exercise: the file being edited and the
// rules its solution must satisfy.
type Exercise struct {
	ID       string
	Title    string
	FilePath string
	Rules    []Rule
}
