package replay

import "encoding/json"

// ParsedReplay is the structured output of an external replay parser.
// The binary decode happens upstream; this service only consumes the
// roster and header it produced.
type ParsedReplay struct {
	MapName         string      `json:"mapName"`
	Winner          string      `json:"winner"` // blue/red/none
	DurationSeconds int         `json:"durationSeconds"`
	Teams           ParsedTeams `json:"teams"`
}

type ParsedTeams struct {
	Blue []ParsedPlayer `json:"blue"`
	Red  []ParsedPlayer `json:"red"`
}

type ParsedPlayer struct {
	Name     string                 `json:"name"`
	Hero     string                 `json:"hero"`
	RawStats map[string]interface{} `json:"stats"`
}

// Parser is the boundary to the external binary replay decoder.
type Parser interface {
	Parse(data []byte) (*ParsedReplay, error)
}

// Stats is the typed view of a parser stat bag. Upstream parsers name
// the same counters inconsistently between releases, so each field is
// resolved through an ordered list of fallback keys.
type Stats struct {
	Kills       int
	Deaths      int
	Assists     int
	HeroDamage  int64
	SiegeDamage int64
	Healing     int64
	Experience  int64
}

var statKeys = map[string][]string{
	"kills":       {"SoloKill", "kills", "Kills"},
	"deaths":      {"Deaths", "deaths"},
	"assists":     {"Assists", "assists", "Takedowns"},
	"heroDamage":  {"HeroDamage", "heroDamage"},
	"siegeDamage": {"SiegeDamage", "siegeDamage", "StructureDamage"},
	"healing":     {"Healing", "healing", "HealingDone"},
	"experience":  {"ExperienceContribution", "experience", "XP"},
}

// Stats resolves the raw bag into typed counters. Missing keys read
// as zero rather than failing the player.
func (p ParsedPlayer) Stats() Stats {
	return Stats{
		Kills:       int(lookupStat(p.RawStats, statKeys["kills"])),
		Deaths:      int(lookupStat(p.RawStats, statKeys["deaths"])),
		Assists:     int(lookupStat(p.RawStats, statKeys["assists"])),
		HeroDamage:  lookupStat(p.RawStats, statKeys["heroDamage"]),
		SiegeDamage: lookupStat(p.RawStats, statKeys["siegeDamage"]),
		Healing:     lookupStat(p.RawStats, statKeys["healing"]),
		Experience:  lookupStat(p.RawStats, statKeys["experience"]),
	}
}

func lookupStat(raw map[string]interface{}, keys []string) int64 {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		}
	}
	return 0
}
