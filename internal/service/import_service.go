// Package service holds the business workflows that tie the provider
// clients, the store and the commerce API together.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cardops/internal/apperr"
	"cardops/internal/imagerelay"
	"cardops/internal/models"
	"cardops/internal/psa"
	"cardops/internal/queue"
	"cardops/internal/quota"
	"cardops/internal/redisclient"
	"cardops/internal/shopify"
	"cardops/internal/store"
	"cardops/internal/trolltoad"
	"cardops/internal/util"
)

// enqueueLeaseTTL bounds how long a (kind, external ID) pair is deduped after
// enqueue. A job that is still failing past this window may be enqueued again.
const enqueueLeaseTTL = time.Hour

// CertFetcher fetches certification records and scans.
type CertFetcher interface {
	FetchCert(ctx context.Context, certNumber, secret string) (*psa.CertRecord, error)
	FetchImages(ctx context.Context, certNumber, secret string) ([]psa.CertImage, error)
}

// ListingFetcher scrapes retail listings.
type ListingFetcher interface {
	FetchProduct(ctx context.Context, ref string) (*trolltoad.Listing, error)
}

// KeySource hands out provider keys and accounts their usage.
type KeySource interface {
	AcquireKey(ctx context.Context) (*quota.Key, error)
	Consume(ctx context.Context, name string) error
}

// ImageRelayer re-hosts provider images, dropping failures.
type ImageRelayer interface {
	RelayAll(ctx context.Context, sourceURLs []string) []string
}

// CommerceWriter is the slice of the Admin API the import pipeline mutates.
type CommerceWriter interface {
	VerifySession(ctx context.Context, accessToken string) error
	ResolveDefaultLocation(ctx context.Context, accessToken string) (string, error)
	CreateProduct(ctx context.Context, accessToken string, input shopify.ProductInput) (string, error)
	AttachMedia(ctx context.Context, accessToken, productID, imageURL string) error
	CreateVariant(ctx context.Context, accessToken, productID string, input shopify.VariantInput) (string, error)
	PublishToAllChannels(ctx context.Context, accessToken, productID string) error
}

// SessionSource resolves and stores merchant credentials.
type SessionSource interface {
	GetSession(ctx context.Context, shop string) (*models.Session, error)
	UpsertSession(ctx context.Context, session *models.Session) error
}

// Enqueuer pushes jobs onto the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *models.ImportJob) error
}

// Leaser provides enqueue-time dedupe leases.
type Leaser interface {
	AcquireLease(ctx context.Context, leaseKey string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, leaseKey string) error
}

// ImportRequest is one identifier/price pair submitted for import.
type ImportRequest struct {
	ExternalID string          `json:"external_id"`
	Price      decimal.Decimal `json:"price"`
}

// ImportService runs the import pipeline end to end. Each job kind has its
// own queue so kinds retry independently.
type ImportService struct {
	sessions SessionSource
	keys     KeySource
	certs    CertFetcher
	listings ListingFetcher
	relay    ImageRelayer
	commerce CommerceWriter
	queues   map[string]Enqueuer
	leases   Leaser
	shop     string
	logger   *zap.Logger
}

// NewImportService wires the import pipeline
func NewImportService(
	sessions *store.Store,
	keys *quota.Rotator,
	certs *psa.Client,
	listings *trolltoad.Client,
	relay *imagerelay.Relay,
	commerce *shopify.Client,
	certQueue *queue.Queue,
	listingQueue *queue.Queue,
	leases *redisclient.Client,
	shop string,
) *ImportService {
	return &ImportService{
		sessions: sessions,
		keys:     keys,
		certs:    certs,
		listings: listings,
		relay:    relay,
		commerce: commerce,
		queues: map[string]Enqueuer{
			models.JobKindPSACert:   certQueue,
			models.JobKindTrollToad: listingQueue,
		},
		leases: leases,
		shop:   shop,
		logger: util.GetLogger(),
	}
}

// EnqueueImports validates a batch and enqueues one job per identifier.
// An identifier already holding a dedupe lease is skipped, not an error.
// Returns the IDs of the jobs actually enqueued.
func (s *ImportService) EnqueueImports(ctx context.Context, kind string, requests []ImportRequest) ([]string, error) {
	const op = "service.EnqueueImports"
	ctx, span := util.StartSpan(ctx, "ImportService.EnqueueImports")
	defer span.End()

	if kind != models.JobKindPSACert && kind != models.JobKindTrollToad {
		return nil, apperr.Newf(apperr.KindValidation, op, "unknown import kind %q", kind)
	}
	if len(requests) == 0 {
		return nil, apperr.Newf(apperr.KindValidation, op, "no identifiers submitted")
	}
	for i, r := range requests {
		if strings.TrimSpace(r.ExternalID) == "" {
			return nil, apperr.Newf(apperr.KindValidation, op, "identifier %d is empty", i)
		}
		if r.Price.IsNegative() {
			return nil, apperr.Newf(apperr.KindValidation, op, "identifier %s has a negative price", r.ExternalID)
		}
	}

	var enqueued []string
	for _, r := range requests {
		leaseKey := fmt.Sprintf("%s:%s", kind, r.ExternalID)
		ok, err := s.leases.AcquireLease(ctx, leaseKey, enqueueLeaseTTL)
		if err != nil {
			return enqueued, fmt.Errorf("failed to acquire enqueue lease: %w", err)
		}
		if !ok {
			s.logger.Info("Skipping identifier already in flight",
				zap.String("kind", kind),
				zap.String("external_id", r.ExternalID))
			continue
		}

		job := &models.ImportJob{
			Kind:           kind,
			ExternalID:     r.ExternalID,
			RequestedPrice: r.Price,
			Shop:           s.shop,
		}
		if err := s.queues[kind].Enqueue(ctx, job); err != nil {
			_ = s.leases.ReleaseLease(ctx, leaseKey)
			return enqueued, fmt.Errorf("failed to enqueue %s: %w", r.ExternalID, err)
		}
		enqueued = append(enqueued, job.ID)
	}
	return enqueued, nil
}

// SeedSession verifies an Admin API token and stores it as the shop's
// session, resolving the default location up front so imports skip the
// lookup. This is how a fresh deployment gets its credentials.
func (s *ImportService) SeedSession(ctx context.Context, shop, accessToken string) (*models.Session, error) {
	const op = "service.SeedSession"
	ctx, span := util.StartSpan(ctx, "ImportService.SeedSession")
	defer span.End()

	if strings.TrimSpace(shop) == "" || strings.TrimSpace(accessToken) == "" {
		return nil, apperr.Newf(apperr.KindValidation, op, "shop and access token are required")
	}

	if err := s.commerce.VerifySession(ctx, accessToken); err != nil {
		return nil, err
	}

	locationID, err := s.commerce.ResolveDefaultLocation(ctx, accessToken)
	if err != nil {
		s.logger.Warn("Failed to resolve default location while seeding session",
			zap.String("shop", shop), zap.Error(err))
		locationID = ""
	}

	session := &models.Session{
		Shop:              shop,
		AccessToken:       accessToken,
		DefaultLocationID: locationID,
	}
	if err := s.sessions.UpsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Info("Seeded merchant session",
		zap.String("shop", shop),
		zap.String("default_location_id", locationID))
	return session, nil
}

// ProcessJob is the queue handler. Dispatches on job kind.
func (s *ImportService) ProcessJob(ctx context.Context, job *models.ImportJob) error {
	ctx, span := util.StartSpan(ctx, "ImportService.ProcessJob")
	defer span.End()

	var productID string
	var err error
	switch job.Kind {
	case models.JobKindPSACert:
		productID, err = s.processCert(ctx, job)
	case models.JobKindTrollToad:
		productID, err = s.processListing(ctx, job)
	default:
		err = apperr.Newf(apperr.KindValidation, "service.ProcessJob", "unknown job kind %q", job.Kind)
	}

	if err == nil {
		_ = s.leases.ReleaseLease(ctx, fmt.Sprintf("%s:%s", job.Kind, job.ExternalID))
		s.logger.Info("Import completed",
			zap.String("job_id", job.ID),
			zap.String("external_id", job.ExternalID),
			zap.String("product_id", productID))
	}
	return err
}

// processCert runs the graded-card pipeline: key acquisition, record fetch,
// image fetch and relay, then the product mutation sequence. Media and
// publishing are best-effort; everything before the product create aborts the
// job on failure.
func (s *ImportService) processCert(ctx context.Context, job *models.ImportJob) (string, error) {
	key, err := s.keys.AcquireKey(ctx)
	if err != nil {
		return "", err
	}

	if err := s.keys.Consume(ctx, key.Name); err != nil {
		return "", err
	}
	record, err := s.certs.FetchCert(ctx, job.ExternalID, key.Secret)
	if err != nil {
		return "", err
	}

	// Images ride on the same key and cost one more call. A failure here
	// drops the scans but never the import.
	var hostedImages []string
	if err := s.keys.Consume(ctx, key.Name); err != nil {
		s.logger.Warn("No quota left for image fetch, importing without scans",
			zap.String("cert", job.ExternalID))
	} else if images, imgErr := s.certs.FetchImages(ctx, job.ExternalID, key.Secret); imgErr != nil {
		s.logger.Warn("Failed to fetch card scans",
			zap.String("cert", job.ExternalID), zap.Error(imgErr))
	} else {
		urls := make([]string, 0, len(images))
		for _, img := range images {
			urls = append(urls, img.URL)
		}
		hostedImages = s.relay.RelayAll(ctx, urls)
	}

	spec := CertToProductSpec(record)
	return s.createProduct(ctx, spec, job.RequestedPrice, hostedImages)
}

// processListing runs the scraped-listing pipeline. Price falls back to the
// listed price when the request did not carry one.
func (s *ImportService) processListing(ctx context.Context, job *models.ImportJob) (string, error) {
	listing, err := s.listings.FetchProduct(ctx, job.ExternalID)
	if err != nil {
		return "", err
	}

	price := job.RequestedPrice
	if price.IsZero() {
		price = listing.ListedPrice
	}

	hostedImages := s.relay.RelayAll(ctx, listing.ImageURLs)

	spec := shopify.ProductSpec{
		Title:           listing.Title,
		DescriptionHTML: listing.Description,
		Vendor:          "Troll & Toad",
		ProductType:     "Trading Card",
	}
	return s.createProduct(ctx, spec, price, hostedImages)
}

// createProduct performs the mutation sequence shared by both pipelines.
func (s *ImportService) createProduct(ctx context.Context, spec shopify.ProductSpec, price decimal.Decimal, imageURLs []string) (string, error) {
	session, err := s.sessions.GetSession(ctx, s.shop)
	if err != nil {
		return "", apperr.New(apperr.KindPermanentAuth, "service.createProduct",
			fmt.Errorf("no stored session: %w", err))
	}
	if err := s.commerce.VerifySession(ctx, session.AccessToken); err != nil {
		return "", err
	}

	locationID := session.DefaultLocationID
	if locationID == "" {
		locationID, err = s.commerce.ResolveDefaultLocation(ctx, session.AccessToken)
		if err != nil {
			return "", err
		}
	}

	input, variants := shopify.BuildProductInput(spec, price, locationID)
	productID, err := s.commerce.CreateProduct(ctx, session.AccessToken, input)
	if err != nil {
		return "", err
	}

	for _, url := range imageURLs {
		if err := s.commerce.AttachMedia(ctx, session.AccessToken, productID, url); err != nil {
			s.logger.Warn("Failed to attach image, continuing",
				zap.String("product_id", productID),
				zap.String("url", url),
				zap.Error(err))
		}
	}

	for _, v := range variants {
		if _, err := s.commerce.CreateVariant(ctx, session.AccessToken, productID, v); err != nil {
			return "", err
		}
	}

	if err := s.commerce.PublishToAllChannels(ctx, session.AccessToken, productID); err != nil {
		s.logger.Warn("Failed to publish product, continuing",
			zap.String("product_id", productID), zap.Error(err))
	}

	return productID, nil
}

// CertToProductSpec maps a certification record onto a product description.
// Sub-grades become one sub-item each; a single-grade cert yields none.
func CertToProductSpec(record *psa.CertRecord) shopify.ProductSpec {
	titleParts := make([]string, 0, 5)
	for _, part := range []string{record.Year, record.Brand, record.Subject} {
		if part != "" {
			titleParts = append(titleParts, part)
		}
	}
	if record.CardNumber != "" {
		titleParts = append(titleParts, "#"+record.CardNumber)
	}
	if record.GradeLabel != "" {
		titleParts = append(titleParts, "PSA "+record.GradeLabel)
	}

	spec := shopify.ProductSpec{
		Title:       strings.Join(titleParts, " "),
		Vendor:      "PSA",
		ProductType: "Graded Card",
		Tags:        certTags(record),
		DescriptionHTML: fmt.Sprintf("<p>Cert #%s. Population: %d.</p>",
			record.CertNumber, record.TotalPop),
	}

	for _, sg := range record.SubGrades {
		spec.SubItems = append(spec.SubItems, shopify.SubItemSpec{
			Title:    fmt.Sprintf("%s %s", sg.Name, sg.Grade),
			Quantity: 1,
		})
	}
	return spec
}

func certTags(record *psa.CertRecord) []string {
	var tags []string
	if record.Year != "" {
		tags = append(tags, record.Year)
	}
	if record.Brand != "" {
		tags = append(tags, record.Brand)
	}
	if desc := GradeDescriptor(record.GradeLabel); desc != "" {
		tags = append(tags, desc)
	}
	return tags
}

// GradeDescriptor strips the numeric portion from a grade label so "GEM MT 10"
// tags as "GEM MT" and "NM-MT 8.5" as "NM-MT". A purely numeric label yields
// the empty string.
func GradeDescriptor(label string) string {
	isNumeric := func(f string) bool {
		for _, r := range f {
			if (r < '0' || r > '9') && r != '.' {
				return false
			}
		}
		return len(f) > 0
	}

	fields := strings.Fields(label)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if isNumeric(f) {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
