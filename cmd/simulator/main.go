// Command simulator generates synthetic CRM lead events and publishes
// them to leads.raw, standing in for the upstream webhook during demos.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

var (
	industries = []string{
		"SaaS", "E-commerce", "FinTech", "HealthTech", "EdTech",
		"Marketing", "Consulting", "Manufacturing", "Retail", "Enterprise Software",
	}
	companySizes = []string{"1-10", "11-50", "51-200", "201-1000", "1000+"}
	titles       = []string{
		"CEO", "CTO", "VP of Engineering", "Head of Product", "Engineering Manager",
		"Product Manager", "Head of Growth", "VP of Sales", "Director of Marketing",
	}
	channels     = []string{"website", "referral", "linkedin", "conference", "webinar"}
	budgetRanges = []string{"<10k", "10k-50k", "50k-100k", "100k-500k", "500k+"}
	timelines    = []string{"immediate", "1-3 months", "3-6 months", "6-12 months"}
	techStack    = []string{"React", "Node.js", "Python", "Kubernetes", "AWS", "GCP", "PostgreSQL", "MongoDB"}
	painPoints   = []string{"scalability", "performance", "cost", "reliability", "security", "compliance"}

	companyAdjectives = []string{"Bright", "Nimble", "Quantum", "Summit", "Vector", "Cobalt", "Atlas", "Harbor", "Lumen", "Orchid"}
	companyNouns      = []string{"Labs", "Systems", "Works", "Dynamics", "Analytics", "Logic", "Forge", "Metrics", "Networks", "Studio"}
	firstNames        = []string{"Alex", "Jordan", "Sam", "Taylor", "Morgan", "Casey", "Riley", "Quinn", "Avery", "Dana"}
	lastNames         = []string{"Chen", "Patel", "Garcia", "Kim", "Novak", "Okafor", "Silva", "Iversen", "Moreau", "Walsh"}
)

type generator struct {
	rng *rand.Rand
}

func newGenerator(seed int64) *generator {
	return &generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *generator) pick(opts []string) string {
	return opts[g.rng.Intn(len(opts))]
}

func (g *generator) sample(opts []string, min, max int) []string {
	n := min + g.rng.Intn(max-min+1)
	perm := g.rng.Perm(len(opts))
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = opts[perm[i]]
	}
	return out
}

func (g *generator) lead() events.RawLead {
	company := g.pick(companyAdjectives) + " " + g.pick(companyNouns)
	domain := strings.ToLower(strings.ReplaceAll(company, " ", "")) + ".example.com"
	contact := g.pick(firstNames) + " " + g.pick(lastNames)
	handle := strings.ToLower(strings.ReplaceAll(contact, " ", "."))

	raw := events.RawLead{
		EventType:  "lead.created",
		Timestamp:  events.Now(),
		ExternalID: "lf_" + uuid.NewString(),
		Company: events.Company{
			Name:     company,
			Website:  "https://" + domain,
			Industry: g.pick(industries),
			Size:     g.pick(companySizes),
		},
		Contact: events.Contact{
			Name:     contact,
			Email:    handle + "@" + domain,
			Title:    g.pick(titles),
			LinkedIn: "https://linkedin.com/in/" + strings.ReplaceAll(handle, ".", "-"),
		},
		Source: events.Source{
			Channel:  g.pick(channels),
			Campaign: fmt.Sprintf("campaign-%d", g.rng.Intn(100)),
		},
		Metadata: events.LeadMetadata{
			TechStack:   g.sample(techStack, 2, 5),
			PainPoints:  g.sample(painPoints, 1, 3),
			BudgetRange: g.pick(budgetRanges),
			Timeline:    g.pick(timelines),
		},
	}
	return raw
}

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	count := flag.Int("count", 10, "number of leads to generate")
	delay := flag.Duration("delay", time.Second, "delay between leads")
	seed := flag.Int64("seed", 0, "rng seed (0 = time-based)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gen := newGenerator(*seed)

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID+"-simulator")
	defer producer.Close()

	published := 0
	for i := 0; i < *count; i++ {
		lead := gen.lead()
		if err := producer.Publish(ctx, cfg.Kafka.TopicLeadsRaw, lead.ExternalID, lead); err != nil {
			logger.Error("publish failed", "external_id", lead.ExternalID, "error", err.Error())
			continue
		}
		published++
		logger.Info("lead published",
			"external_id", lead.ExternalID,
			"company", lead.Company.Name,
			"size", lead.Company.Size)

		if i < *count-1 {
			select {
			case <-ctx.Done():
				i = *count
			case <-time.After(*delay):
			}
		}
	}

	remaining := producer.Flush(10 * time.Second)
	logger.Info("simulation complete",
		"published", published,
		"requested", *count,
		"unflushed", remaining,
		"delivery_failures", producer.DeliveryFailures())
}
