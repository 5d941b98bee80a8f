package board

// Result represents the result of a game, if any. 2 bits.
type Result uint8

const (
	Unknown Result = iota
	WhiteWins
	BlackWins
	Draw
)

const (
	NumResults Result = 4
)

func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// ParseResult parses a PGN result tag. Unrecognized values map to Unknown.
func ParseResult(str string) Result {
	switch str {
	case "1-0":
		return WhiteWins
	case "0-1":
		return BlackWins
	case "1/2-1/2":
		return Draw
	default:
		return Unknown
	}
}
