package crawler

import (
	"testing"

	"github.com/DevMantelis/autominus/internal/model"
)

func TestReconcileNewListing(t *testing.T) {
	listings := []model.ListingSummary{
		{ExternalID: "100", URL: "https://autoplius.lt/skelbimai/a-100.html", Price: 1500, Status: model.StatusActive},
	}

	result := reconcile(listings, map[string]model.Vehicle{})
	if len(result.toScrape) != 1 {
		t.Fatalf("expected 1 listing to scrape, got %d", len(result.toScrape))
	}
	if len(result.toUpdate) != 0 {
		t.Errorf("expected no updates, got %d", len(result.toUpdate))
	}
	if result.toScrape[0].ExternalID != "100" {
		t.Errorf("unexpected listing %q", result.toScrape[0].ExternalID)
	}
}

func TestReconcilePriceChange(t *testing.T) {
	listings := []model.ListingSummary{
		{ExternalID: "100", Price: 1200, Status: model.StatusActive},
	}
	existing := map[string]model.Vehicle{
		"100": {ID: 7, Price: 1500, Status: model.StatusActive},
	}

	result := reconcile(listings, existing)
	if len(result.toScrape) != 0 {
		t.Errorf("known listing should not be rescraped")
	}
	if len(result.toUpdate) != 1 {
		t.Fatalf("expected 1 update, got %d", len(result.toUpdate))
	}
	update := result.toUpdate[0]
	if update.ID != 7 {
		t.Errorf("update should target existing record, got id %d", update.ID)
	}
	if update.Price != 1200 {
		t.Errorf("expected new price 1200, got %d", update.Price)
	}
	// 旧价格保留到 price_old
	if update.PriceOld != 1500 {
		t.Errorf("expected price_old 1500, got %d", update.PriceOld)
	}
}

func TestReconcileStatusChange(t *testing.T) {
	listings := []model.ListingSummary{
		{ExternalID: "100", Price: 1500, Status: model.StatusSold},
	}
	existing := map[string]model.Vehicle{
		"100": {ID: 7, Price: 1500, Status: model.StatusActive},
	}

	result := reconcile(listings, existing)
	if len(result.toUpdate) != 1 {
		t.Fatalf("expected 1 update, got %d", len(result.toUpdate))
	}
	if result.toUpdate[0].Status != model.StatusSold {
		t.Errorf("expected status sold, got %q", result.toUpdate[0].Status)
	}
}

func TestReconcileUnchangedIsSkipped(t *testing.T) {
	listings := []model.ListingSummary{
		{ExternalID: "100", Price: 1500, Status: model.StatusActive},
	}
	existing := map[string]model.Vehicle{
		"100": {ID: 7, Price: 1500, Status: model.StatusActive},
	}

	result := reconcile(listings, existing)
	if len(result.toScrape) != 0 || len(result.toUpdate) != 0 {
		t.Errorf("unchanged listing should be skipped, got scrape=%d update=%d",
			len(result.toScrape), len(result.toUpdate))
	}
}

func TestReconcileSamePageDuplicates(t *testing.T) {
	// 置顶位和正常位会让同一条广告在一页里出现两次
	listings := []model.ListingSummary{
		{ExternalID: "100", Price: 1500, Status: model.StatusActive},
		{ExternalID: "100", Price: 1500, Status: model.StatusActive},
	}

	result := reconcile(listings, map[string]model.Vehicle{})
	if len(result.toScrape) != 1 {
		t.Errorf("duplicate ids within a page should collapse, got %d", len(result.toScrape))
	}
}

func TestListingIDs(t *testing.T) {
	listings := []model.ListingSummary{
		{ExternalID: "1"},
		{ExternalID: "2"},
		{ExternalID: "1"},
	}
	ids := listingIDs(listings)
	if len(ids) != 2 {
		t.Fatalf("expected 2 unique ids, got %d", len(ids))
	}
	if ids[0] != "1" || ids[1] != "2" {
		t.Errorf("unexpected ids %v", ids)
	}
}
