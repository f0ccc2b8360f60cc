package crawler

import (
	"github.com/DevMantelis/autominus/internal/model"
)

// reconcileResult 一页广告和库中数据对账后的结论。
type reconcileResult struct {
	toScrape []model.ListingSummary // 新广告，需要抓详情
	toUpdate []model.Vehicle        // 已有广告，价格或状态变了
}

// reconcile 把列表页的广告摘要和库中已有记录对账。
//
// 同一页内重复出现的 ID（置顶位 + 正常位）只取第一次；
// 库中不存在的进抓取集，价格或状态变化的进更新集，其余跳过。
func reconcile(listings []model.ListingSummary, existing map[string]model.Vehicle) reconcileResult {
	var result reconcileResult
	seen := make(map[string]bool, len(listings))

	for _, listing := range listings {
		if seen[listing.ExternalID] {
			continue
		}
		seen[listing.ExternalID] = true

		current, ok := existing[listing.ExternalID]
		if !ok {
			result.toScrape = append(result.toScrape, listing)
			continue
		}
		if listing.Price != current.Price || listing.Status != current.Status {
			result.toUpdate = append(result.toUpdate, model.Vehicle{
				ID:       current.ID,
				Price:    listing.Price,
				PriceOld: current.Price,
				Status:   listing.Status,
			})
		}
	}
	return result
}

// listingIDs 提取一页广告的去重 ID 列表（查询已有记录用）。
func listingIDs(listings []model.ListingSummary) []string {
	seen := make(map[string]bool, len(listings))
	ids := make([]string, 0, len(listings))
	for _, listing := range listings {
		if seen[listing.ExternalID] {
			continue
		}
		seen[listing.ExternalID] = true
		ids = append(ids, listing.ExternalID)
	}
	return ids
}
