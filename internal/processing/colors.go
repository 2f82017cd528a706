package processing

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"artvault/internal/models"
)

type namedColor struct {
	name    string
	r, g, b int
}

// Marketplace colour names used for primary/secondary colour suggestions.
var palette = []namedColor{
	{"Black", 0, 0, 0},
	{"White", 255, 255, 255},
	{"Grey", 128, 128, 128},
	{"Red", 200, 30, 30},
	{"Orange", 240, 140, 30},
	{"Yellow", 240, 220, 50},
	{"Green", 50, 150, 60},
	{"Blue", 40, 80, 200},
	{"Purple", 120, 60, 160},
	{"Pink", 240, 150, 190},
	{"Brown", 120, 75, 40},
	{"Beige", 225, 205, 170},
	{"Gold", 212, 175, 55},
}

type bucket struct {
	key              int
	count            int
	sumR, sumG, sumB int
}

// DominantColors returns up to n colours covering most of img, largest
// share first. Pixels that are mostly transparent are ignored.
func DominantColors(img image.Image, n int) []models.DominantColor {
	small := imaging.Fit(img, 64, 64, imaging.Box)
	buckets := map[int]*bucket{}
	total := 0

	b := small.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := small.NRGBAAt(x, y)
			if c.A < 128 {
				continue
			}
			key := int(c.R>>5)<<6 | int(c.G>>5)<<3 | int(c.B>>5)
			bk, ok := buckets[key]
			if !ok {
				bk = &bucket{key: key}
				buckets[key] = bk
			}
			bk.count++
			bk.sumR += int(c.R)
			bk.sumG += int(c.G)
			bk.sumB += int(c.B)
			total++
		}
	}
	if total == 0 {
		return nil
	}

	sorted := make([]*bucket, 0, len(buckets))
	for _, bk := range buckets {
		sorted = append(sorted, bk)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].key < sorted[j].key
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}

	out := make([]models.DominantColor, 0, len(sorted))
	for _, bk := range sorted {
		r, g, b := bk.sumR/bk.count, bk.sumG/bk.count, bk.sumB/bk.count
		out = append(out, models.DominantColor{
			Hex:   fmt.Sprintf("#%02X%02X%02X", r, g, b),
			Name:  nearestColorName(r, g, b),
			Share: math.Round(float64(bk.count)/float64(total)*1000) / 1000,
		})
	}
	return out
}

func nearestColorName(r, g, b int) string {
	best, bestDist := "", math.MaxInt
	for _, p := range palette {
		dr, dg, db := r-p.r, g-p.g, b-p.b
		if d := dr*dr + dg*dg + db*db; d < bestDist {
			best, bestDist = p.name, d
		}
	}
	return best
}

// SuggestColours picks distinct primary and secondary colour names from the
// dominant colours, in order of share.
func SuggestColours(colors []models.DominantColor) (primary, secondary string) {
	for _, c := range colors {
		switch {
		case primary == "":
			primary = c.Name
		case c.Name != primary:
			return primary, c.Name
		}
	}
	return primary, primary
}
