// Package referral distributes rewards up a user's sponsor chain when an
// investment receives a deposit.
package referral

import (
	"github.com/go-pg/pg"
	"github.com/go-pg/pg/orm"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/ledger"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

type Cascade struct {
	obs      *observability.Observability
	log      *logrus.Logger
	maxLevel int
	rewards  prometheus.Counter
}

func NewCascade(obs *observability.Observability, maxLevel int) *Cascade {
	return &Cascade{
		obs:      obs,
		log:      obs.Log(),
		maxLevel: maxLevel,
		rewards: obs.Counter(prometheus.CounterOpts{
			Name: "ledger_referral_rewards_total",
			Help: "Number of referral reward transactions written.",
		}),
	}
}

// Reward is one planned payout for an ancestor in the sponsor chain.
type Reward struct {
	UserID     string
	Level      int
	Percentage int64
	Amount     int64
}

// BuildRewards walks the ancestor list and plans one reward per level that
// is active with a nonzero percentage. The walk is bounded: it never goes
// past maxLevel no matter how deep the chain is, and an inactive level
// skips the payout without stopping the walk.
func BuildRewards(levels map[int]models.ReferralLevel, ancestors []string, startLevel, maxLevel int, amount int64) []Reward {
	var planned []Reward
	level := startLevel
	for _, ancestor := range ancestors {
		if level > maxLevel {
			break
		}
		if cfg, ok := levels[level]; ok && cfg.Active && cfg.Percentage > 0 {
			planned = append(planned, Reward{
				UserID:     ancestor,
				Level:      level,
				Percentage: cfg.Percentage,
				Amount:     engine.ApplyPercentage(amount, cfg.Percentage),
			})
		}
		level++
	}
	return planned
}

// GiveReward runs the cascade for one investment deposit inside the
// caller's transaction scope. parentID is the sponsor of the investor;
// startLevel is 1 for a fresh deposit.
func (c *Cascade) GiveReward(db orm.DB, startLevel int, parentID *string, investmentID string, amount int64) error {
	if parentID == nil || amount <= 0 {
		return nil
	}

	ancestors, err := c.loadAncestors(db, *parentID, c.maxLevel-startLevel+1)
	if err != nil {
		return err
	}
	levels, err := c.loadLevels(db)
	if err != nil {
		return err
	}

	store := ledger.NewStorage(c.obs, db)
	for _, reward := range BuildRewards(levels, ancestors, startLevel, c.maxLevel, amount) {
		if reward.Amount == 0 {
			continue
		}
		percentage := reward.Percentage
		_, err := store.RecordTransaction(&models.Transaction{
			UserID:                  reward.UserID,
			Amount:                  reward.Amount,
			Type:                    models.TxTypeReward,
			InvestmentID:            &investmentID,
			ReferralLevelPercentage: &percentage,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to write level %d reward", reward.Level)
		}
		c.rewards.Inc()
	}
	return nil
}

// MaxTotalPercentage sums the active level percentages within the cascade
// bound. The cancellation fine claws back exactly this share of deposits.
func (c *Cascade) MaxTotalPercentage(db orm.DB) (int64, error) {
	var total int64
	err := db.Model((*models.ReferralLevel)(nil)).
		ColumnExpr("coalesce(sum(percentage), 0)").
		Where("active = true").
		Where("level <= ?", c.maxLevel).
		Select(pg.Scan(&total))
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum referral percentages")
	}
	return total, nil
}

// loadAncestors follows parent pointers upward, at most limit hops.
func (c *Cascade) loadAncestors(db orm.DB, firstParent string, limit int) ([]string, error) {
	var chain []string
	current := firstParent
	for len(chain) < limit {
		user := &models.User{}
		err := db.Model(user).Where("id = ?", current).Select()
		if err == pg.ErrNoRows {
			c.log.WithField("user", current).Warnf("sponsor chain is broken, stopping cascade")
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to load sponsor")
		}
		chain = append(chain, user.ID)
		if user.ParentID == nil {
			break
		}
		current = *user.ParentID
	}
	return chain, nil
}

func (c *Cascade) loadLevels(db orm.DB) (map[int]models.ReferralLevel, error) {
	var rows []models.ReferralLevel
	err := db.Model(&rows).Where("level <= ?", c.maxLevel).Select()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load referral levels")
	}
	levels := make(map[int]models.ReferralLevel, len(rows))
	for _, row := range rows {
		levels[row.Level] = row
	}
	return levels, nil
}
