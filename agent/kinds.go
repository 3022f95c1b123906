package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/agentguard/guardrail"
	"github.com/jonwraymond/agentguard/loop"
)

// Kind names an agent kind. It doubles as the agent type resolved from the
// config store.
type Kind string

// Agent kinds.
const (
	KindTripPlanner      Kind = "trip-planner"
	KindBookingAssistant Kind = "booking-assistant"
)

// Tool names used by the built-in definitions.
const (
	ToolGeocode           guardrail.ToolName = "geocode_location"
	ToolSearchPlaces      guardrail.ToolName = "search_places"
	ToolSearchFlights     guardrail.ToolName = "search_flights"
	ToolSearchHotels      guardrail.ToolName = "search_hotels"
	ToolCheckAvailability guardrail.ToolName = "check_availability"
	ToolCreateBooking     guardrail.ToolName = "create_booking"
)

// Rate limit error codes.
const (
	CodeGeocodeRateLimited = "GEOCODE_RATE_LIMITED"
	CodeSearchRateLimited  = "SEARCH_RATE_LIMITED"
	CodeBookingRateLimited = "BOOKING_RATE_LIMITED"
)

// Definition is the fixed shape of an agent kind.
type Definition struct {
	Kind         Kind
	SystemPrompt string
	Plan         loop.PhasePlan

	// MaxSteps caps the configured step count. Zero leaves it uncapped.
	MaxSteps int

	// Guards holds the guardrails of each tool. Tools without an entry get
	// telemetry only.
	Guards map[guardrail.ToolName]guardrail.Spec
}

// Validate checks the definition's plan.
func (d Definition) Validate() error {
	if strings.TrimSpace(string(d.Kind)) == "" {
		return fmt.Errorf("%w: empty kind", ErrUnknownKind)
	}
	if err := d.Plan.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", d.Kind, err)
	}
	return nil
}

// Guard returns the spec for tool, tagged with the kind's workflow.
func (d Definition) Guard(tool guardrail.ToolName) guardrail.Spec {
	spec := d.Guards[tool]
	if spec.Telemetry.Workflow == "" {
		spec.Telemetry.Workflow = string(d.Kind)
	}
	return spec
}

// WithSearchFrom returns a copy whose second phase starts at step.
func (d Definition) WithSearchFrom(step int) Definition {
	if len(d.Plan) < 2 || step <= 0 {
		return d
	}
	plan := append(loop.PhasePlan(nil), d.Plan...)
	plan[1].FromStep = step
	d.Plan = plan
	return d
}

// Definitions returns the built-in agent kinds.
func Definitions() []Definition {
	return []Definition{TripPlanner(), BookingAssistant()}
}

// TripPlanner resolves destinations, then searches places, flights and
// hotels.
func TripPlanner() Definition {
	return Definition{
		Kind: KindTripPlanner,
		SystemPrompt: "You plan trips. First resolve every place the traveler mentions " +
			"with geocode_location. Then use the search tools to build an itinerary. " +
			"Answer with a concise day-by-day plan once you have enough results.",
		Plan: loop.TravelPlan(
			[]guardrail.ToolName{ToolGeocode},
			[]guardrail.ToolName{ToolSearchPlaces, ToolSearchFlights, ToolSearchHotels},
		),
		MaxSteps: 12,
		Guards: map[guardrail.ToolName]guardrail.Spec{
			ToolGeocode:       geocodeSpec(),
			ToolSearchPlaces:  searchSpec("places", 30*time.Minute),
			ToolSearchFlights: searchSpec("flights", 5*time.Minute),
			ToolSearchHotels:  searchSpec("hotels", 10*time.Minute),
		},
	}
}

// BookingAssistant resolves the destination, then checks availability and
// books.
func BookingAssistant() Definition {
	return Definition{
		Kind: KindBookingAssistant,
		SystemPrompt: "You book travel. Resolve the destination with geocode_location, " +
			"search hotels, confirm availability with check_availability and only call " +
			"create_booking after the traveler has confirmed the exact option.",
		Plan: loop.TravelPlan(
			[]guardrail.ToolName{ToolGeocode},
			[]guardrail.ToolName{ToolSearchHotels, ToolCheckAvailability, ToolCreateBooking},
		),
		MaxSteps: 10,
		Guards: map[guardrail.ToolName]guardrail.Spec{
			ToolGeocode:      geocodeSpec(),
			ToolSearchHotels: searchSpec("hotels", 10*time.Minute),
			ToolCheckAvailability: {
				Cache: &guardrail.CacheSpec{
					Namespace: "availability",
					TTL:       2 * time.Minute,
					PerCaller: true,
				},
				RateLimit: &guardrail.RateLimitSpec{Limit: 30, Window: "1m", ErrorCode: CodeSearchRateLimited},
			},
			ToolCreateBooking: {
				RateLimit: &guardrail.RateLimitSpec{Limit: 5, Window: "1h", ErrorCode: CodeBookingRateLimited},
				Tags:      []string{"booking", "write"},
			},
		},
	}
}

func geocodeSpec() guardrail.Spec {
	return guardrail.Spec{
		Cache: &guardrail.CacheSpec{
			Namespace: "geocode",
			TTL:       24 * time.Hour,
			HashInput: func(params map[string]any) any {
				q, _ := params["query"].(string)
				return map[string]any{"query": strings.ToLower(strings.TrimSpace(q))}
			},
		},
		RateLimit: &guardrail.RateLimitSpec{Limit: 60, Window: "1m", ErrorCode: CodeGeocodeRateLimited},
	}
}

func searchSpec(namespace string, ttl time.Duration) guardrail.Spec {
	return guardrail.Spec{
		Cache:     &guardrail.CacheSpec{Namespace: "search:" + namespace, TTL: ttl},
		RateLimit: &guardrail.RateLimitSpec{Limit: 20, Window: "1m", ErrorCode: CodeSearchRateLimited},
	}
}
