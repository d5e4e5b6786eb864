package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/usecase/profile"
	"github.com/urfave/cli/v3"
)

// newProfileUseCase returns the profile use case and a function to release its repository
func (cfg *config) newProfileUseCase(ctx context.Context) (*profile.UseCase, func(), error) {
	repo, closeRepo, err := cfg.newRepository()
	if err != nil {
		return nil, nil, err
	}

	var opts []profile.Option
	storage, err := cfg.newStorage(ctx)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	if storage != nil {
		opts = append(opts, profile.WithStorage(storage))
	}

	gemini, err := cfg.optionalGemini(ctx)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	if gemini != nil {
		opts = append(opts, profile.WithGemini(gemini))
	}

	return profile.New(repo, opts...), closeRepo, nil
}

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Show or change the store profile used to personalize posts",
		Commands: []*cli.Command{
			profileShowCommand(),
			profileSetCommand(),
		},
	}
}

func profileShowCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "show",
		Usage: "Show the store profile",
		Flags: repositoryFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			p, err := uc.Get(ctx)
			if err != nil {
				return err
			}
			printProfile(c.Root().Writer, p)
			return nil
		},
	}
}

func profileSetCommand() *cli.Command {
	var (
		cfg        config
		name       string
		address    string
		brandVoice string
		funFacts   []string
		products   []string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Store name",
			Destination: &name,
		},
		&cli.StringFlag{
			Name:        "address",
			Usage:       "Store address",
			Destination: &address,
		},
		&cli.StringFlag{
			Name:        "brand-voice",
			Usage:       "Tone of captions, e.g. \"warm and playful\"",
			Destination: &brandVoice,
		},
		&cli.StringSliceFlag{
			Name:        "fun-fact",
			Usage:       "Fun fact about the store (repeatable, replaces the list)",
			Destination: &funFacts,
		},
		&cli.StringSliceFlag{
			Name:        "product",
			Usage:       "Signature product (repeatable, replaces the list)",
			Destination: &products,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "set",
		Usage: "Change fields of the store profile. Unset flags keep current values",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var input profile.UpdateInput
			if c.IsSet("name") {
				input.Name = &name
			}
			if c.IsSet("address") {
				input.Address = &address
			}
			if c.IsSet("brand-voice") {
				input.BrandVoice = &brandVoice
			}
			if c.IsSet("fun-fact") {
				input.FunFacts = funFacts
			}
			if c.IsSet("product") {
				input.SignatureProducts = products
			}

			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			p, err := uc.Update(ctx, input)
			if err != nil {
				return err
			}
			printProfile(c.Root().Writer, p)
			return nil
		},
	}
}

func printProfile(w io.Writer, p *model.StoreProfile) {
	fmt.Fprintf(w, "Name: %s\n", p.Name)
	fmt.Fprintf(w, "Address: %s\n", p.Address)
	fmt.Fprintf(w, "Brand voice: %s\n", p.BrandVoice)
	fmt.Fprintf(w, "Fun facts: %s\n", strings.Join(p.FunFacts, "; "))
	fmt.Fprintf(w, "Signature products: %s\n", strings.Join(p.SignatureProducts, "; "))
	fmt.Fprintf(w, "Reference images: %d\n", len(p.ReferenceImages))
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated: %s\n", p.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:  "image",
		Usage: "Manage reference photos of the store",
		Commands: []*cli.Command{
			imageAddCommand(),
			imageListCommand(),
			imageShowCommand(),
			imageDeleteCommand(),
		},
	}
}

func imageFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, repositoryFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, geminiFlags(cfg)...)
	return flags
}

func imageAddCommand() *cli.Command {
	var (
		cfg         config
		description string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "description",
			Aliases:     []string{"m"},
			Usage:       "What the photo shows",
			Destination: &description,
		},
	}
	flags = append(flags, imageFlags(&cfg)...)

	return &cli.Command{
		Name:      "add",
		Usage:     "Upload a reference photo and add it to the profile",
		ArgsUsage: "<file>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return goerr.New("image file is required")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return goerr.Wrap(err, "failed to read image file", goerr.V("path", path))
			}

			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			img, err := uc.AddReferenceImage(ctx, profile.AddImageInput{
				Data:        data,
				Description: description,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Reference image added: %s\n", img.ID)
			if img.VisualCaption != "" {
				fmt.Fprintf(c.Root().Writer, "Caption: %s\n", img.VisualCaption)
			}
			return nil
		},
	}
}

func imageListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List reference photos",
		Flags: imageFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			images, err := uc.ListReferenceImages(ctx)
			if err != nil {
				return err
			}
			for _, img := range images {
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", img.ID, img.ContentType, img.Summary())
			}
			return nil
		},
	}
}

func imageShowCommand() *cli.Command {
	var (
		cfg    config
		output string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Save the photo to this file",
			Destination: &output,
		},
	}
	flags = append(flags, imageFlags(&cfg)...)

	return &cli.Command{
		Name:      "show",
		Usage:     "Show a reference photo",
		ArgsUsage: "<image-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id := model.ReferenceImageID(c.Args().First())
			if id == "" {
				return goerr.New("image ID is required")
			}

			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			img, err := uc.GetReferenceImage(ctx, id)
			if err != nil {
				return err
			}
			w := c.Root().Writer
			fmt.Fprintf(w, "ID: %s\n", img.ID)
			fmt.Fprintf(w, "Path: %s\n", img.Path)
			fmt.Fprintf(w, "Content type: %s\n", img.ContentType)
			fmt.Fprintf(w, "Description: %s\n", img.Description)
			fmt.Fprintf(w, "Visual caption: %s\n", img.VisualCaption)
			fmt.Fprintf(w, "Created: %s\n", img.CreatedAt.Format("2006-01-02 15:04"))

			if output == "" {
				return nil
			}
			return saveImage(ctx, uc, id, output)
		},
	}
}

func saveImage(ctx context.Context, uc *profile.UseCase, id model.ReferenceImageID, path string) error {
	r, err := uc.OpenReferenceImage(ctx, id)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(path)
	if err != nil {
		return goerr.Wrap(err, "failed to create file", goerr.V("path", path))
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return goerr.Wrap(err, "failed to save image", goerr.V("path", path))
	}
	return nil
}

func imageDeleteCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a reference photo",
		ArgsUsage: "<image-id>",
		Flags:     imageFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id := model.ReferenceImageID(c.Args().First())
			if id == "" {
				return goerr.New("image ID is required")
			}

			uc, closeRepo, err := cfg.newProfileUseCase(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			if err := uc.DeleteReferenceImage(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Reference image deleted: %s\n", id)
			return nil
		},
	}
}
