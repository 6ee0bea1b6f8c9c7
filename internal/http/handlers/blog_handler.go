package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/http/middleware"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
	"github.com/rahu7v3rma/soreal-sub001/internal/utils"
)

// ListPostsResponse wraps a page of blog posts.
type ListPostsResponse struct {
	Posts      []domain.BlogPost `json:"posts"`
	Pagination Pagination        `json:"pagination"`
}

// SearchPostsResponse lists ranked published posts.
type SearchPostsResponse struct {
	Query   string               `json:"query"`
	Results []services.SearchHit `json:"results"`
}

// postID validates the :id path param, answering 400 when it isn't a UUID.
func postID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "post id must be a UUID")
		return "", false
	}
	return id, true
}

// AdminListPosts godoc
// @ID          adminListPosts
// @Summary     List posts of any status
// @Tags        Admin Blog
// @Produce     json
// @Security    AdminKey
// @Param       status     query  string  false  "draft or published"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListPostsResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts [get]
func (h *Handlers) AdminListPosts(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.blog.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListPostsResponse{Posts: items, Pagination: newPagination(page, pageSize, total)})
}

// AdminGetPost godoc
// @ID          adminGetPost
// @Summary     Get a post
// @Tags        Admin Blog
// @Produce     json
// @Security    AdminKey
// @Param       id   path      string  true  "Post ID"  format(uuid)
// @Success     200  {object}  domain.BlogPost
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts/{id} [get]
func (h *Handlers) AdminGetPost(c *gin.Context) {
	id, valid := postID(c)
	if !valid {
		return
	}
	p, err := h.blog.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// AdminCreatePost godoc
// @ID          adminCreatePost
// @Summary     Create a draft
// @Description The slug is derived from the title when omitted.
// @Tags        Admin Blog
// @Accept      json
// @Produce     json
// @Security    AdminKey
// @Param       body  body      services.PostInput  true  "Post"
// @Success     201   {object}  domain.BlogPost
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Slug taken"
// @Router      /admin/blog/posts [post]
func (h *Handlers) AdminCreatePost(c *gin.Context) {
	var in services.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	var author string
	if k := middleware.APIKeyFrom(c); k != nil {
		author = k.ID
	}
	p, err := h.blog.Create(c.Request.Context(), author, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

// AdminUpdatePost godoc
// @ID          adminUpdatePost
// @Summary     Update a post
// @Tags        Admin Blog
// @Accept      json
// @Produce     json
// @Security    AdminKey
// @Param       id    path      string              true  "Post ID"  format(uuid)
// @Param       body  body      services.PostInput  true  "Fields to change"
// @Success     200   {object}  domain.BlogPost
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts/{id} [put]
func (h *Handlers) AdminUpdatePost(c *gin.Context) {
	id, valid := postID(c)
	if !valid {
		return
	}
	var in services.PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	p, err := h.blog.Update(c.Request.Context(), id, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// AdminPublishPost godoc
// @ID          adminPublishPost
// @Summary     Publish a post
// @Tags        Admin Blog
// @Produce     json
// @Security    AdminKey
// @Param       id   path      string  true  "Post ID"  format(uuid)
// @Success     200  {object}  domain.BlogPost
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts/{id}/publish [post]
func (h *Handlers) AdminPublishPost(c *gin.Context) {
	h.setPostStatus(c, h.blog.Publish)
}

// AdminUnpublishPost godoc
// @ID          adminUnpublishPost
// @Summary     Turn a post back into a draft
// @Tags        Admin Blog
// @Produce     json
// @Security    AdminKey
// @Param       id   path      string  true  "Post ID"  format(uuid)
// @Success     200  {object}  domain.BlogPost
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts/{id}/unpublish [post]
func (h *Handlers) AdminUnpublishPost(c *gin.Context) {
	h.setPostStatus(c, h.blog.Unpublish)
}

func (h *Handlers) setPostStatus(c *gin.Context, apply func(ctx context.Context, id string) (*domain.BlogPost, error)) {
	id, valid := postID(c)
	if !valid {
		return
	}
	p, err := apply(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// AdminDeletePost godoc
// @ID          adminDeletePost
// @Summary     Delete a post
// @Tags        Admin Blog
// @Security    AdminKey
// @Param       id   path      string  true  "Post ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /admin/blog/posts/{id} [delete]
func (h *Handlers) AdminDeletePost(c *gin.Context) {
	id, valid := postID(c)
	if !valid {
		return
	}
	if err := h.blog.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListPublishedPosts godoc
// @ID          listPublishedPosts
// @Summary     Published posts (paginated)
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Blog
// @Produce     json
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListPostsResponse
// @Header      200  {string}  ETag           "Weak ETag for current result"
// @Header      200  {string}  Cache-Control  "Caching directives"
// @Success     304  {string}  string  "Not Modified"
// @Router      /blog/posts [get]
func (h *Handlers) ListPublishedPosts(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	if count, maxTS, err := h.blog.PublishedStats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"posts:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		c.Header("Cache-Control", "public, max-age=60")
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.blog.Published(ctx, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListPostsResponse{Posts: items, Pagination: newPagination(page, pageSize, total)})
}

// GetPublishedPost godoc
// @ID          getPublishedPost
// @Summary     A published post by slug
// @Tags        Blog
// @Produce     json
// @Param       slug  path      string  true  "Post slug"
// @Success     200   {object}  domain.BlogPost
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /blog/posts/{slug} [get]
func (h *Handlers) GetPublishedPost(c *gin.Context) {
	p, err := h.blog.BySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=60")
	ok(c, http.StatusOK, p)
}

// SearchPosts godoc
// @ID          searchPosts
// @Summary     Search published posts
// @Tags        Blog
// @Produce     json
// @Param       q      query     string  true   "Query"
// @Param       limit  query     int     false  "Max results"  minimum(1) maximum(50) default(10)
// @Success     200    {object}  handlers.SearchPostsResponse
// @Failure     400    {object}  handlers.ErrorResponse
// @Router      /blog/search [get]
func (h *Handlers) SearchPosts(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), 10), 1, 50)
	hits, err := h.blog.Search(c.Request.Context(), q, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SearchPostsResponse{Query: q, Results: hits})
}
