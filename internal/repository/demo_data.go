package repository

import (
	"context"
	"time"

	"github.com/iliyamo/club-event-registration/internal/model"
)

// SeedDemo fills c with the sample clubs and events served when the
// server runs without MongoDB. Deadlines and dates are placed relative
// to now so the demo stays open for registration.
func SeedDemo(ctx context.Context, c Catalog, now time.Time) error {
	day := 24 * time.Hour
	at := func(d time.Duration) *time.Time {
		t := now.Add(d).UTC().Truncate(day)
		return &t
	}
	capacity := func(n int) *int { return &n }

	clubs := []model.Club{
		{Listing: model.Listing{
			Name:                 "Computer Science Club",
			Description:          "Learn programming, participate in hackathons, and network with tech professionals.",
			Category:             "Technical",
			IsActive:             true,
			Capacity:             capacity(50),
			RegistrationDeadline: at(45 * day),
			Requirements:         "Basic programming knowledge helpful but not required",
			ContactEmail:         "cs.club@university.edu",
			RegistrationLink:     "demo-link-1",
		}},
		{Listing: model.Listing{
			Name:                 "Drama Society",
			Description:          "Express yourself through theater, acting, and dramatic performances.",
			Category:             "Cultural",
			IsActive:             true,
			Capacity:             capacity(30),
			RegistrationDeadline: at(30 * day),
			Requirements:         "Passion for acting and theater",
			ContactEmail:         "drama@university.edu",
			RegistrationLink:     "demo-link-2",
		}},
		{Listing: model.Listing{
			Name:                 "Basketball Team",
			Description:          "Join our competitive basketball team and represent the university.",
			Category:             "Sports",
			IsActive:             true,
			Capacity:             capacity(15),
			RegistrationDeadline: at(14 * day),
			Requirements:         "Basic basketball skills and physical fitness",
			ContactEmail:         "basketball@university.edu",
			RegistrationLink:     "demo-link-3",
		}},
	}
	for i := range clubs {
		if err := c.CreateClub(ctx, &clubs[i]); err != nil {
			return err
		}
	}

	events := []model.Event{
		{
			Listing: model.Listing{
				Name:                 "AI & Machine Learning Workshop",
				Description:          "Hands-on workshop covering the basics of AI and ML with practical examples.",
				Category:             "Workshop",
				IsActive:             true,
				Capacity:             capacity(40),
				RegistrationDeadline: at(10 * day),
				Requirements:         "Basic Python knowledge recommended",
				ContactEmail:         "ai.workshop@university.edu",
				RegistrationLink:     "demo-event-link-1",
			},
			Date:     *at(15 * day),
			Time:     "2:00 PM",
			Location: "Computer Lab A",
			Duration: "3 hours",
			ClubID:   &clubs[0].ID,
		},
		{
			Listing: model.Listing{
				Name:                 "Annual Cultural Fest",
				Description:          "Celebrate diversity with performances, food, and cultural exhibitions.",
				Category:             "Cultural",
				IsActive:             true,
				Capacity:             capacity(500),
				RegistrationDeadline: at(35 * day),
				Requirements:         "None - open to all",
				ContactEmail:         "culturalfest@university.edu",
				RegistrationLink:     "demo-event-link-2",
			},
			Date:     *at(40 * day),
			Time:     "10:00 AM",
			Location: "Main Campus Grounds",
			Duration: "8 hours",
		},
		{
			Listing: model.Listing{
				Name:                 "Startup Pitch Competition",
				Description:          "Present your business ideas and compete for funding and mentorship.",
				Category:             "Competition",
				IsActive:             true,
				Capacity:             capacity(100),
				RegistrationDeadline: at(50 * day),
				Requirements:         "Must have a business idea or prototype",
				ContactEmail:         "startup.competition@university.edu",
				RegistrationLink:     "demo-event-link-3",
			},
			Date:     *at(55 * day),
			Time:     "1:00 PM",
			Location: "Business School Auditorium",
			Duration: "4 hours",
		},
	}
	for i := range events {
		if err := c.CreateEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
