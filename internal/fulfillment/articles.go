package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/articles"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/internal/lock"
	"github.com/smallbiznis/entitled/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	articlesLockAcquireTimeout = 2 * time.Second
	articlesLockHoldTimeout    = 10 * time.Second
)

// ArticlesFulfiller folds a customer's articles grants into one subscription
// aggregate. Every change to the aggregate runs under the customer's article
// lock so concurrent grant and revoke tasks serialize instead of clobbering
// each other's recount. The grant row itself also flips inside the critical
// section: a recount taken under the lock must already see grants whose task
// has passed through here, not just the ones the queue has finished
// persisting.
type ArticlesFulfiller struct {
	db     *gorm.DB
	store  *articles.Store
	grants grantdomain.Repository
	locker lock.Locker
	clock  clock.Clock
	log    *zap.Logger
}

func NewArticlesFulfiller(db *gorm.DB, store *articles.Store, grants grantdomain.Repository, locker lock.Locker, clk clock.Clock, log *zap.Logger) *ArticlesFulfiller {
	return &ArticlesFulfiller{
		db:     db,
		store:  store,
		grants: grants,
		locker: locker,
		clock:  clk,
		log:    log.Named("fulfillment").With(zap.String("component", "articles")),
	}
}

func articlesLockKey(customerID snowflake.ID) string {
	return fmt.Sprintf("articles:customer:%d", customerID)
}

func (f *ArticlesFulfiller) acquire(ctx context.Context, customerID snowflake.ID) (lock.Guard, error) {
	started := time.Now()
	guard, err := f.locker.Acquire(ctx, articlesLockKey(customerID), articlesLockAcquireTimeout, articlesLockHoldTimeout)
	metrics.Fulfillment().ObserveLockWait(time.Since(started))
	if err != nil {
		if err == lock.ErrNotAcquired {
			return nil, Retriable(0, err)
		}
		return nil, err
	}
	return guard, nil
}

func (f *ArticlesFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	guard, err := f.acquire(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	defer guard.Release(ctx)

	paid := propBool(benefit.Properties, "paid_articles")
	aggregate := paid
	if !aggregate {
		// Another still-granted articles benefit may carry paid access.
		others, err := f.grants.ListGrantedByCustomerAndType(ctx, f.db, customer.ID, benefitdomain.TypeArticles, benefit.ID)
		if err != nil {
			return nil, err
		}
		for _, other := range others {
			if propBool(other.Benefit.Properties, "paid_articles") {
				aggregate = true
				break
			}
		}
	}

	if err := f.store.Upsert(ctx, customer.OrgID, customer.ID, aggregate); err != nil {
		return nil, err
	}

	props := Properties{"paid_articles": paid}
	// Mark the grant row before releasing the lock so a racing revoke's
	// recount counts this grant. Without this, revoking the customer's old
	// tier between the upsert above and the queue's own persistence would
	// delete the aggregate this grant just established.
	if err := f.markGranted(ctx, benefit.ID, customer.ID, props); err != nil {
		return nil, err
	}
	return props, nil
}

func (f *ArticlesFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	guard, err := f.acquire(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	defer guard.Release(ctx)

	others, err := f.grants.ListGrantedByCustomerAndType(ctx, f.db, customer.ID, benefitdomain.TypeArticles, benefit.ID)
	if err != nil {
		return nil, err
	}
	if len(others) == 0 {
		if err := f.store.Delete(ctx, customer.ID); err != nil {
			return nil, err
		}
		return Properties{}, f.markRevoked(ctx, benefit.ID, customer.ID)
	}

	paid := false
	for _, other := range others {
		if propBool(other.Benefit.Properties, "paid_articles") {
			paid = true
			break
		}
	}
	if err := f.store.Upsert(ctx, customer.OrgID, customer.ID, paid); err != nil {
		return nil, err
	}
	return Properties{}, f.markRevoked(ctx, benefit.ID, customer.ID)
}

// markGranted flips the grant row inside the caller's critical section. A
// missing row is tolerated: the queue creates it before dispatching, so the
// row only lacks when the fulfiller is driven directly.
func (f *ArticlesFulfiller) markGranted(ctx context.Context, benefitID, customerID snowflake.ID, props Properties) error {
	record, err := f.grants.FindByPair(ctx, f.db, benefitID, customerID)
	if err != nil {
		if errors.Is(err, grantdomain.ErrNotFound) {
			return nil
		}
		return err
	}
	record.Properties = datatypes.JSONMap(props)
	record.SetGranted(f.clock.Now())
	return f.grants.Update(ctx, f.db, record)
}

func (f *ArticlesFulfiller) markRevoked(ctx context.Context, benefitID, customerID snowflake.ID) error {
	record, err := f.grants.FindByPair(ctx, f.db, benefitID, customerID)
	if err != nil {
		if errors.Is(err, grantdomain.ErrNotFound) {
			return nil
		}
		return err
	}
	if record.IsRevoked() {
		return nil
	}
	record.Properties = datatypes.JSONMap(Properties{})
	record.SetRevoked(f.clock.Now())
	return f.grants.Update(ctx, f.db, record)
}

// RequiresUpdate is always false: the aggregate is re-derived from the live
// grant set on every grant and revoke, so a configuration change needs no
// re-grant fan-out to take effect.
func (f *ArticlesFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	return false
}

func (f *ArticlesFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	props := Properties{"paid_articles": false}
	if v, ok := raw["paid_articles"]; ok {
		paid, isBool := v.(bool)
		if !isBool {
			return nil, invalidProperty([]string{"properties", "paid_articles"}, "bool_type", "must be a boolean", v)
		}
		props["paid_articles"] = paid
	}
	return props, nil
}
