// Package splitter cuts long text into chunks for the text_splitter node.
// The auto strategy measures runes; the token strategy measures estimated
// model tokens.
package splitter
