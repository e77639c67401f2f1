package battleground

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"

	"storm-arena/internal/model"
	appErr "storm-arena/pkg/errors"
	"storm-arena/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

type MutationParams struct {
	Name    string
	Aliases []string
	Status  string
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// defaultPool is the ranked battleground rotation used to seed an
// empty registry. Aliases cover the internal names replay files carry.
var defaultPool = map[string][]string{
	"Cursed Hollow":            {"cursedhollow"},
	"Dragon Shire":             {"dragonshire"},
	"Sky Temple":               {"luxoriavista", "skytemple"},
	"Towers of Doom":           {"towersofdoom"},
	"Infernal Shrines":         {"shrines", "infernalshrines"},
	"Battlefield of Eternity":  {"battlefieldofeternity"},
	"Tomb of the Spider Queen": {"crypts", "tombofthespiderqueen"},
	"Braxis Holdout":           {"braxisholdout"},
	"Volskaya Foundry":         {"volskaya", "volskayafoundry"},
	"Alterac Pass":             {"alteracpass"},
}

// SeedDefaults fills an empty registry with the standard pool. A
// populated table is left untouched.
func (s *Service) SeedDefaults(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Battleground{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	rows := make([]model.Battleground, 0, len(defaultPool))
	for name, aliases := range defaultPool {
		aliasBytes, err := json.Marshal(aliases)
		if err != nil {
			return err
		}
		rows = append(rows, model.Battleground{
			Name:        name,
			AliasesJSON: datatypes.JSON(aliasBytes),
			Status:      "enabled",
		})
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}
	logger.Log.Info("battleground pool seeded", zap.Int("count", len(rows)))
	return nil
}

func (s *Service) List(ctx context.Context) ([]model.Battleground, error) {
	var rows []model.Battleground
	err := s.db.WithContext(ctx).Order("name").Find(&rows).Error
	return rows, err
}

func (s *Service) Create(ctx context.Context, params MutationParams) (*model.Battleground, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, appErr.ErrValidation
	}
	status := strings.ToLower(strings.TrimSpace(params.Status))
	if status == "" {
		status = "enabled"
	}

	aliasBytes, err := json.Marshal(params.Aliases)
	if err != nil {
		return nil, err
	}
	row := model.Battleground{
		Name:        params.Name,
		AliasesJSON: datatypes.JSON(aliasBytes),
		Status:      status,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) Update(ctx context.Context, id int64, params MutationParams) (*model.Battleground, error) {
	var row model.Battleground
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.ErrBattlegroundNotFound
		}
		return nil, err
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(params.Name); name != "" {
		updates["name"] = name
	}
	if params.Aliases != nil {
		aliasBytes, err := json.Marshal(params.Aliases)
		if err != nil {
			return nil, err
		}
		updates["aliases_json"] = datatypes.JSON(aliasBytes)
	}
	if status := strings.ToLower(strings.TrimSpace(params.Status)); status != "" {
		updates["status"] = status
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &row, nil
}

// Canonicalize maps a replay map name onto the registry's canonical
// display name. Lookup is case-insensitive over names and aliases;
// unknown names pass through unchanged so the consistency scorer can
// still flag them.
func (s *Service) Canonicalize(ctx context.Context, name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return trimmed
	}
	needle := normalizeKey(trimmed)

	rows, err := s.List(ctx)
	if err != nil {
		logger.Log.Warn("battleground lookup failed", zap.Error(err))
		return trimmed
	}
	for _, row := range rows {
		if normalizeKey(row.Name) == needle {
			return row.Name
		}
		var aliases []string
		if len(row.AliasesJSON) > 0 {
			if err := json.Unmarshal(row.AliasesJSON, &aliases); err != nil {
				continue
			}
		}
		for _, alias := range aliases {
			if normalizeKey(alias) == needle {
				return row.Name
			}
		}
	}
	return trimmed
}

// PickRandom returns a random enabled battleground for a new match.
func (s *Service) PickRandom(ctx context.Context) (string, error) {
	var rows []model.Battleground
	err := s.db.WithContext(ctx).Where("status = ?", "enabled").Find(&rows).Error
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", appErr.ErrBattlegroundNotFound
	}
	return rows[rand.Intn(len(rows))].Name, nil
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), ""))
}
