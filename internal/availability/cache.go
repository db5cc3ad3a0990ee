package availability

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Freeeeeet/space_booking/internal/model"
)

type rulesEntry struct {
	rules    []model.AvailabilityRule
	loadedAt time.Time
}

// RulesCache - совещательный кэш опубликованных правил площадки.
// Брони сюда не попадают: они всегда читаются из БД, а конфликт решает ConflictDetector.
type RulesCache struct {
	cache *lru.Cache[uuid.UUID, rulesEntry]
	ttl   time.Duration

	// поколение растёт при каждой инвалидации; загрузка, начатая до неё, в кэш не попадает
	mu          sync.Mutex
	generations map[uuid.UUID]uint64

	now    func() time.Time
	logger *zap.Logger
}

func NewRulesCache(size int, ttl time.Duration, logger *zap.Logger) (*RulesCache, error) {
	cache, err := lru.New[uuid.UUID, rulesEntry](size)
	if err != nil {
		logger.Error("Failed to init rules cache", zap.Int("size", size), zap.Error(err))
		return nil, err
	}
	return &RulesCache{
		cache:       cache,
		ttl:         ttl,
		generations: make(map[uuid.UUID]uint64),
		now:         time.Now,
		logger:      logger,
	}, nil
}

// Get возвращает копию правил, если запись есть и не устарела
func (c *RulesCache) Get(propertyID uuid.UUID) ([]model.AvailabilityRule, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.cache.Get(propertyID)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.loadedAt) > c.ttl {
		c.cache.Remove(propertyID)
		return nil, false
	}
	return append([]model.AvailabilityRule(nil), entry.rules...), true
}

func (c *RulesCache) Put(propertyID uuid.UUID, rules []model.AvailabilityRule) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(propertyID, rules)
}

// Generation возвращает поколение правил площадки; его берут до чтения из БД
func (c *RulesCache) Generation(propertyID uuid.UUID) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[propertyID]
}

// PutIfCurrent кладёт правила, только если с момента Generation не было инвалидации
func (c *RulesCache) PutIfCurrent(propertyID uuid.UUID, rules []model.AvailabilityRule, generation uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[propertyID] != generation {
		c.logger.Debug("Stale rules load skipped", zap.String("property_id", propertyID.String()))
		return false
	}
	c.add(propertyID, rules)
	return true
}

func (c *RulesCache) add(propertyID uuid.UUID, rules []model.AvailabilityRule) {
	c.cache.Add(propertyID, rulesEntry{
		rules:    append([]model.AvailabilityRule(nil), rules...),
		loadedAt: c.now(),
	})
}

// Invalidate вызывается после правки правил хостом
func (c *RulesCache) Invalidate(propertyID uuid.UUID) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[propertyID]++
	if c.cache.Remove(propertyID) {
		c.logger.Debug("Rules cache invalidated", zap.String("property_id", propertyID.String()))
	}
}
