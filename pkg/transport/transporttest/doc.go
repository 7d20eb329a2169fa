// Package transporttest provides a conformance suite for connection
// suppliers.
//
// Every supplier (memory, fs, badger, s3) should pass these tests. The suite
// checks the Conn contract the transfer engine relies on: uploads split
// across connections, part validation, ranged reads and coded errors.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    transporttest.RunConformanceSuite(t, func(t *testing.T) transport.Supplier {
//	        return memory.NewZone()
//	    })
//	}
//
// The factory receives *testing.T so it can call t.TempDir() for suppliers
// that need a directory and t.Cleanup for teardown.
package transporttest
