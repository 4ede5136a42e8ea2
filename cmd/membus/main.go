// Command membus builds a memory system from a YAML description and
// simulates it.
package main

func main() {
	Execute()
}
