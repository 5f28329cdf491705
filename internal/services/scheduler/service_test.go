package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Teskh/production-sub000/internal/models"
)

func TestNormalizeCron(t *testing.T) {
	t.Run("Should convert 5-field to 6-field cron", func(t *testing.T) {
		tests := []struct {
			name     string
			input    string
			expected string
		}{
			{
				name:     "Daily at 2 AM",
				input:    "0 2 * * *",
				expected: "0 0 2 * * *",
			},
			{
				name:     "Every 15 minutes",
				input:    "*/15 * * * *",
				expected: "0 */15 * * * *",
			},
			{
				name:     "Every Monday at 9 AM",
				input:    "0 9 * * 1",
				expected: "0 0 9 * * 1",
			},
			{
				name:     "First day of month at midnight",
				input:    "0 0 1 * *",
				expected: "0 0 0 1 * *",
			},
			{
				name:     "Every 5 minutes",
				input:    "*/5 * * * *",
				expected: "0 */5 * * * *",
			},
			{
				name:     "At 3:30 PM every day",
				input:    "30 15 * * *",
				expected: "0 30 15 * * *",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})

	t.Run("Should keep 6-field cron unchanged", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{
				name:  "6-field daily at 2 AM",
				input: "0 0 2 * * *",
			},
			{
				name:  "6-field every 15 minutes",
				input: "0 */15 * * * *",
			},
			{
				name:  "6-field with seconds",
				input: "30 0 2 * * 1",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.input, result)
			})
		}
	})

	t.Run("Should fail with invalid field count", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{
				name:  "Too few fields (4)",
				input: "0 2 * *",
			},
			{
				name:  "Too many fields (7)",
				input: "0 0 2 * * * 2025",
			},
			{
				name:  "Empty string",
				input: "",
			},
			{
				name:  "Single field",
				input: "*",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := normalizeCron(tt.input)
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "invalid cron expression")
			})
		}
	})

	t.Run("Should handle cron with extra whitespace", func(t *testing.T) {
		input := "  0   2   *   *   *  "
		// The function trims leading/trailing but keeps internal whitespace structure
		expected := "0 0   2   *   *   *"

		result, err := normalizeCron(input)
		require.NoError(t, err)
		assert.Equal(t, expected, result)
	})
}

func TestCronExpressionExamples(t *testing.T) {
	t.Run("Should convert common maintenance schedules", func(t *testing.T) {
		tests := []struct {
			schedule   string
			cron5Field string
			cron6Field string
		}{
			{"Daily", "0 2 * * *", "0 0 2 * * *"},
			{"Weekly (Monday)", "0 2 * * 1", "0 0 2 * * 1"},
			{"Monthly (1st)", "0 2 1 * *", "0 0 2 1 * *"},
			{"Quarterly (1st of Jan/Apr/Jul/Oct)", "0 2 1 1,4,7,10 *", "0 0 2 1 1,4,7,10 *"},
			{"Yearly (Jan 1st)", "0 2 1 1 *", "0 0 2 1 1 *"},
		}

		for _, tt := range tests {
			t.Run(tt.schedule, func(t *testing.T) {
				result, err := normalizeCron(tt.cron5Field)
				require.NoError(t, err)
				assert.Equal(t, tt.cron6Field, result)
			})
		}
	})
}

func TestCronEdgeCases(t *testing.T) {
	t.Run("Should handle complex cron expressions", func(t *testing.T) {
		tests := []struct {
			name     string
			input    string
			expected string
		}{
			{
				name:     "Range (hours 9-17)",
				input:    "0 9-17 * * *",
				expected: "0 0 9-17 * * *",
			},
			{
				name:     "Multiple values",
				input:    "0 8,12,16 * * *",
				expected: "0 0 8,12,16 * * *",
			},
			{
				name:     "Step values",
				input:    "0 */2 * * *",
				expected: "0 0 */2 * * *",
			},
			{
				name:     "Specific days (weekdays)",
				input:    "0 9 * * 1-5",
				expected: "0 0 9 * * 1-5",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				result, err := normalizeCron(tt.input)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, result)
			})
		}
	})
}

func TestCronSpec(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		expected string
	}{
		{"empty timezone", "", "0 0 9 * * *"},
		{"UTC", "UTC", "0 0 9 * * *"},
		{"named zone", "Asia/Tokyo", "CRON_TZ=Asia/Tokyo 0 0 9 * * *"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &models.ScheduledJob{Cron: "0 0 9 * * *", Timezone: tt.timezone}
			assert.Equal(t, tt.expected, cronSpec(job))

			_, err := cronParser.Parse(cronSpec(job))
			require.NoError(t, err)
		})
	}

	t.Run("Should fire in the job's timezone", func(t *testing.T) {
		job := &models.ScheduledJob{Cron: "0 0 9 * * *", Timezone: "Asia/Tokyo"}
		schedule, err := cronParser.Parse(cronSpec(job))
		require.NoError(t, err)

		from := time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC)
		next := schedule.Next(from)
		// 09:00 in Tokyo is midnight UTC.
		assert.True(t, next.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), "got %s", next.UTC())
	})
}
