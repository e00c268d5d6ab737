// Package fragment assembles one output file from numbered fragments.
//
// A code generator often learns what belongs near the top of a file (forward
// declarations, string constants, runtime imports) only after it has emitted
// the code that needs them. A Store lets it keep one independently writable
// stream per fragment id and concatenate them later:
//
//	s := fragment.NewStore(fragment.Config{Backing: fragment.BackingSpill})
//	defer s.RemoveFiles()
//
//	body, _ := s.Open(2)
//	io.WriteString(body, "int main(void) { return f(); }\n")
//	decls, _ := s.Open(0)
//	io.WriteString(decls, "int f(void);\n")
//
//	_ = s.SetDestination(out)
//	err := s.Combine() // fragment 0, then 1 (if any), then 2
//
// Output order is ascending id, never allocation or write order. A Store
// belongs to exactly one run and is not safe for concurrent use; independent
// runs use independent stores.
package fragment
