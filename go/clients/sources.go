package clients

import "github.com/zwl098/yusic/go/internal/models"

// SourceConfig describes a catalog source
type SourceConfig struct {
	Source      models.Source `json:"source"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Priority    int           `json:"priority"` // Higher priority sources are searched first
	Active      bool          `json:"active"`
}

// GetSources returns all catalog sources the server knows
func GetSources() map[models.Source]SourceConfig {
	return map[models.Source]SourceConfig{
		models.SourceNetease: {
			Source:      models.SourceNetease,
			Name:        "NetEase Cloud Music",
			Description: "Default search source",
			Priority:    100,
			Active:      true,
		},
		models.SourceQQ: {
			Source:      models.SourceQQ,
			Name:        "QQ Music",
			Description: "Tencent QQ Music",
			Priority:    90,
			Active:      true,
		},
		models.SourceKuwo: {
			Source:      models.SourceKuwo,
			Name:        "Kuwo",
			Description: "Kuwo Music",
			Priority:    80,
			Active:      true,
		},
	}
}

// DefaultSource returns the active source with the highest priority
func DefaultSource() models.Source {
	var highest models.Source
	highestPriority := -1
	for source, config := range GetSources() {
		if config.Active && config.Priority > highestPriority {
			highest = source
			highestPriority = config.Priority
		}
	}
	return highest
}
