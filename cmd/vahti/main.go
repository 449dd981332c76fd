// Vahti - Confidence-Gated Action Engine
// Correlate. Gate. Act.
package main

func main() {
	Execute()
}
