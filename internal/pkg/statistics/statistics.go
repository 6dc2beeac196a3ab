package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/MarcoHuber/SaaSKit/app/models"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/cache"
	"github.com/MarcoHuber/SaaSKit/internal/pkg/database"
)

const (
	CacheKeyUsers          = "statistics:users:total"
	CacheKeyUsersDaily     = "statistics:users:daily:%s" // Format with date YYYY-MM-DD
	CacheKeySubsActive     = "statistics:subscriptions:active"
	CacheKeyMonthlyRevenue = "statistics:revenue:monthly"
	CacheExpiration        = 30 * time.Minute
)

// StatisticsData enthält die Statistikdaten für das Admin-Dashboard
type StatisticsData struct {
	TotalUsers          int   `json:"total_users"`
	TodaySignups        int   `json:"today_signups"`
	ActiveSubscriptions int   `json:"active_subscriptions"`
	MonthlyRevenue      int64 `json:"monthly_revenue"` // in the smallest currency unit
}

// Variablen für die Cache-Aktualisierungslogik
var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache prüft, ob der Cache aktualisiert werden sollte
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded aktualisiert den Cache, wenn nötig
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		log.Println("Aktualisiere Statistik-Cache...")
		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Fehler beim Aktualisieren des Statistik-Caches: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer setzt den Timer für die Cache-Aktualisierung zurück
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache updates all statistics in the cache
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	var todaySignups int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.User{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todaySignups).Error; err != nil {
		log.Printf("Error counting today's signups: %v", err)
		return err
	}

	var activeSubs int64
	if err := db.Model(&models.Subscription{}).Where("status IN ?", []string{"active", "trialing"}).Count(&activeSubs).Error; err != nil {
		log.Printf("Error counting active subscriptions: %v", err)
		return err
	}

	// Sum of plan prices over active subscriptions, yearly plans pro-rated
	var monthlyRevenue int64
	row := db.Model(&models.Subscription{}).
		Select("COALESCE(SUM(CASE WHEN plans.`interval` = 'year' THEN plans.price / 12 ELSE plans.price END), 0)").
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.status IN ?", []string{"active", "trialing"}).
		Row()
	if err := row.Scan(&monthlyRevenue); err != nil {
		log.Printf("Error calculating monthly revenue: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		log.Printf("Error caching total users: %v", err)
		return err
	}

	dailyKey := fmt.Sprintf(CacheKeyUsersDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todaySignups, 10), CacheExpiration); err != nil {
		log.Printf("Error caching today's signups: %v", err)
		return err
	}

	if err := cache.Set(CacheKeySubsActive, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		log.Printf("Error caching active subscriptions: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyMonthlyRevenue, strconv.FormatInt(monthlyRevenue, 10), CacheExpiration); err != nil {
		log.Printf("Error caching monthly revenue: %v", err)
		return err
	}

	log.Printf("Statistics updated in cache: Users: %d, Signups today: %d, Active subscriptions: %d, MRR: %d",
		totalUsers, todaySignups, activeSubs, monthlyRevenue)

	return nil
}

// GetStatistics returns the dashboard statistics, served from cache where possible
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalUsers:          cachedInt(CacheKeyUsers),
		TodaySignups:        cachedInt(fmt.Sprintf(CacheKeyUsersDaily, time.Now().Format("2006-01-02"))),
		ActiveSubscriptions: cachedInt(CacheKeySubsActive),
		MonthlyRevenue:      int64(cachedInt(CacheKeyMonthlyRevenue)),
	}
}

// cachedInt reads a counter from the cache, falling back to a full cache
// refresh when the key is missing
func cachedInt(key string) int {
	val, err := cache.Get(key)
	if err != nil {
		if err := UpdateStatisticsCache(); err != nil {
			return 0
		}
		val, err = cache.Get(key)
		if err != nil {
			return 0
		}
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}

	return int(count)
}
