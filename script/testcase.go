package script

// TestCase is an ordered group of commands run against a single device
// connection.
type TestCase struct {
	Name     string
	Commands []Command
}

// Len returns the number of commands in the test case.
func (tc TestCase) Len() int {
	return len(tc.Commands)
}

// Suite is a named, ordered collection of test cases.
type Suite struct {
	Name  string
	Cases []TestCase
}

// Append adds test cases to the end of the suite.
func (s *Suite) Append(cases ...TestCase) {
	s.Cases = append(s.Cases, cases...)
}

// CommandCount returns the number of commands across all test cases.
func (s Suite) CommandCount() int {
	n := 0
	for _, tc := range s.Cases {
		n += tc.Len()
	}
	return n
}
