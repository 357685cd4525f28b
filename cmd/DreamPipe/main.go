// Command dreampipe runs the DreamPipe dream interpretation bot and its
// session administration commands.
package main

func main() {
	Execute()
}
