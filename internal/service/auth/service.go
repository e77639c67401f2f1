package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"storm-arena/internal/config"
	"storm-arena/internal/model"
	pkgAuth "storm-arena/pkg/auth"
	appErr "storm-arena/pkg/errors"
	"storm-arena/pkg/logger"
	"storm-arena/pkg/utils/random"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	rdb     *redis.Client
	codeTTL time.Duration
}

type LoginResult struct {
	Token    string     `json:"token"`
	ExpireAt time.Time  `json:"expireAt"`
	User     model.User `json:"user"`
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		db:      db,
		rdb:     rdb,
		codeTTL: 5 * time.Minute,
	}
}

const testLoginCode = "123456"

var battletagPattern = regexp.MustCompile(`^[^\s#]{2,24}#\d{3,8}$`)

// RequestLoginCode issues a one-time code for a battletag. In debug
// mode the code is fixed so local clients need no delivery channel.
func (s *Service) RequestLoginCode(ctx context.Context, battletag string) error {
	battletag = strings.TrimSpace(battletag)
	if !battletagPattern.MatchString(battletag) {
		return appErr.ErrInvalidBattletag
	}

	code := testLoginCode
	if !strings.EqualFold(config.GlobalConfig.Server.Mode, "debug") {
		code = random.Numeric(6)
	}

	key := buildLoginCodeKey(battletag)
	if err := s.rdb.Set(ctx, key, code, s.codeTTL).Err(); err != nil {
		return err
	}
	logger.Log.Info("login code generated",
		zap.String("battletag", battletag),
		zap.Bool("testCode", strings.EqualFold(config.GlobalConfig.Server.Mode, "debug")),
	)
	return nil
}

// Login exchanges a valid code for a JWT, creating the account on
// first sight of the battletag.
func (s *Service) Login(ctx context.Context, battletag, code string) (*LoginResult, error) {
	battletag = strings.TrimSpace(battletag)
	if battletag == "" || strings.TrimSpace(code) == "" {
		return nil, appErr.ErrInvalidBattletag
	}

	key := buildLoginCodeKey(battletag)
	stored, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, appErr.ErrLoginCodeExpired
		}
		return nil, err
	}
	if stored != code {
		return nil, appErr.ErrInvalidLoginCode
	}
	s.rdb.Del(ctx, key)

	var user model.User
	err = s.db.WithContext(ctx).Where("battletag = ?", battletag).First(&user).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
		user, err = s.createUser(ctx, battletag)
		if err != nil {
			return nil, err
		}
	}

	if strings.EqualFold(user.Status, "banned") {
		return nil, appErr.ErrUserBanned
	}

	token, err := pkgAuth.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}

	expireAt := time.Now().Add(time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour)
	return &LoginResult{
		Token:    token,
		ExpireAt: expireAt,
		User:     user,
	}, nil
}

func (s *Service) createUser(ctx context.Context, battletag string) (model.User, error) {
	user := model.User{
		Battletag:   battletag,
		DisplayName: displayNameFrom(battletag),
		Status:      "normal",
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return model.User{}, err
	}
	return user, nil
}

func displayNameFrom(battletag string) string {
	if idx := strings.Index(battletag, "#"); idx > 0 {
		return battletag[:idx]
	}
	return battletag
}

func buildLoginCodeKey(battletag string) string {
	return "auth:code:" + strings.ToLower(battletag)
}
